package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single catalog query.
const DefaultTimeout = 30 * time.Second

// Options controls a bounded search.
type Options struct {
	Timeout time.Duration
	Ranking Ranking
	Logger  *slog.Logger
}

// SearchOutcome is the result of one bounded search. Err is nil or wraps
// ErrSearchUnavailable; Candidates is then empty.
type SearchOutcome struct {
	Candidates []SceneCandidate
	Err        error
	Discarded  int
	Duration   time.Duration
}

// Empty reports whether no candidate survived the search.
func (o SearchOutcome) Empty() bool { return len(o.Candidates) == 0 }

// Search runs exactly one query against s, bounded by opts.Timeout. Failures are
// recorded in the outcome instead of being returned. Returned candidates all have
// cloud cover <= q.MaxCloudCover, an acquisition time inside q.Window and a
// footprint intersecting q.BBox, whatever the backend returned.
func Search(ctx context.Context, s Searcher, q Query, opts Options) SearchOutcome {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.Search(ctx, q)
	outcome := SearchOutcome{Duration: time.Since(start)}
	if err != nil {
		if !errors.Is(err, ErrSearchUnavailable) {
			err = fmt.Errorf("%w: %s: %w", ErrSearchUnavailable, s.Name(), err)
		}
		logger.WarnContext(ctx, "catalog search failed",
			slog.String("backend", s.Name()),
			slog.String("error", err.Error()),
		)
		outcome.Err = err
		return outcome
	}

	candidates := make([]SceneCandidate, 0, len(raw))
	for _, c := range raw {
		if !accept(c, q) {
			outcome.Discarded++
			continue
		}
		candidates = append(candidates, c.Clone())
	}

	ranking := opts.Ranking
	if ranking == "" {
		ranking = DefaultRanking
	}
	ranking.Sort(candidates, q.Window)
	outcome.Candidates = candidates

	logger.DebugContext(ctx, "catalog search completed",
		slog.String("backend", s.Name()),
		slog.Int("returned", len(raw)),
		slog.Int("accepted", len(candidates)),
		slog.Duration("duration", outcome.Duration),
	)

	return outcome
}

func accept(c SceneCandidate, q Query) bool {
	if c.ID == "" {
		return false
	}
	if !(c.CloudCover >= 0 && c.CloudCover <= q.MaxCloudCover) {
		return false
	}
	if !q.Window.Contains(c.Acquired) {
		return false
	}
	if c.Footprint.IsEmpty() || !c.Footprint.Intersects(q.BBox) {
		return false
	}
	return true
}
