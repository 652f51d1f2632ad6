// Package acquire turns an area of interest and two target dates into a pair of
// aligned, fixed-size RGB rasters. Every per-date failure after geometry
// validation falls back to a synthetic raster, so a run always yields two images.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/raster"
	"github.com/robert-malhotra/changewatch/internal/selection"
)

// Date roles.
const (
	RoleBefore = "before"
	RoleAfter  = "after"
)

// Fetcher produces a raster for a selected scene.
type Fetcher interface {
	Fetch(ctx context.Context, scene catalog.SceneCandidate, bbox aoi.BoundingBox) (*raster.Image, error)
}

// Metrics receives pipeline measurements. observability.Collector implements it.
type Metrics interface {
	ObserveSearch(backend string, d time.Duration)
	ObserveFetch(d time.Duration)
	RecordAcquisition(date, source string)
	RecordFallback(date, reason string)
}

// Config holds the acquisition parameters.
type Config struct {
	Size          int
	MaxCloudCover float64
	ToleranceDays int
	SearchTimeout time.Duration
	SearchLimit   int
	Ranking       catalog.Ranking
}

// DefaultConfig returns the standard acquisition parameters.
func DefaultConfig() Config {
	return Config{
		Size:          raster.DefaultSize,
		MaxCloudCover: 20,
		ToleranceDays: 15,
		SearchTimeout: catalog.DefaultTimeout,
		SearchLimit:   10,
		Ranking:       catalog.DefaultRanking,
	}
}

// Acquisition is the outcome for one target date.
type Acquisition struct {
	Role           string
	Date           time.Time
	Image          *raster.Image
	Scene          *catalog.SceneCandidate
	Trace          []Transition
	FallbackReason string
	FallbackErr    error
}

// Synthetic reports whether the date fell back to placeholder data.
func (a Acquisition) Synthetic() bool {
	return a.Image != nil && a.Image.Synthetic()
}

// Result is the pair of rasters for one run. It is only returned once both
// acquisitions are done.
type Result struct {
	BBox   aoi.BoundingBox
	Before Acquisition
	After  Acquisition
}

// Degraded reports whether either raster is synthetic.
func (r *Result) Degraded() bool {
	return r.Before.Synthetic() || r.After.Synthetic()
}

// Orchestrator coordinates search, selection, fetch and fallback.
type Orchestrator struct {
	cfg      Config
	searcher catalog.Searcher
	fetcher  Fetcher
	metrics  Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an orchestrator. Unset sizes, timeouts and limits take their defaults.
func New(cfg Config, searcher catalog.Searcher, fetcher Fetcher) *Orchestrator {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.MaxCloudCover < 0 {
		cfg.MaxCloudCover = def.MaxCloudCover
	}
	if cfg.ToleranceDays < 0 {
		cfg.ToleranceDays = def.ToleranceDays
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if cfg.Ranking == "" {
		cfg.Ranking = def.Ranking
	}

	return &Orchestrator{
		cfg:      cfg,
		searcher: searcher,
		fetcher:  fetcher,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/robert-malhotra/changewatch/internal/acquire"),
	}
}

// WithLogger sets a custom logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// WithMetrics enables metric recording.
func (o *Orchestrator) WithMetrics(m Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Acquire validates the polygon, then acquires the before and after rasters
// concurrently. The only error besides ctx.Err() wraps aoi.ErrInvalidGeometry.
func (o *Orchestrator) Acquire(ctx context.Context, polygon aoi.Polygon, before, after time.Time) (*Result, error) {
	bbox, err := aoi.Parse(polygon)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "acquire",
		trace.WithAttributes(
			attribute.String("bbox", bbox.String()),
			attribute.String("before", before.Format(time.DateOnly)),
			attribute.String("after", after.Format(time.DateOnly)),
		),
	)
	defer span.End()

	var beforeAcq, afterAcq Acquisition
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		beforeAcq = o.acquireOne(gctx, RoleBefore, before, bbox)
		return nil
	})
	g.Go(func() error {
		afterAcq = o.acquireOne(gctx, RoleAfter, after, bbox)
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "canceled")
		return nil, ctx.Err()
	case <-done:
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "canceled")
		return nil, err
	}

	result := &Result{BBox: bbox, Before: beforeAcq, After: afterAcq}
	span.SetAttributes(attribute.Bool("degraded", result.Degraded()))
	return result, nil
}

func (o *Orchestrator) acquireOne(ctx context.Context, role string, date time.Time, bbox aoi.BoundingBox) Acquisition {
	ctx, span := o.tracer.Start(ctx, "acquire."+role,
		trace.WithAttributes(attribute.String("date", date.Format(time.DateOnly))),
	)
	defer span.End()

	m := newMachine()
	acq := Acquisition{Role: role, Date: date}

	img, scene, err := o.realImage(ctx, m, date, bbox)
	if err != nil {
		kind := Kind(err)
		m.to(StateFallback, kind)

		o.logger.WarnContext(ctx, "falling back to synthetic raster",
			slog.String("date_role", role),
			slog.String("date", date.Format(time.DateOnly)),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		if o.metrics != nil {
			o.metrics.RecordFallback(role, kind)
		}
		span.SetAttributes(attribute.String("fallback_reason", kind))

		img = raster.Synthetic(o.cfg.Size)
		acq.FallbackReason = kind
		acq.FallbackErr = err
	} else {
		acq.Scene = &scene
		span.SetAttributes(attribute.String("scene_id", scene.ID))
	}
	m.to(StateDone, "")

	acq.Image = img
	acq.Trace = m.trace
	if o.metrics != nil {
		o.metrics.RecordAcquisition(role, string(img.Source()))
	}

	o.logger.DebugContext(ctx, "acquisition done",
		slog.String("date_role", role),
		slog.String("source", string(img.Source())),
		slog.String("scene_id", img.SceneID()),
	)
	return acq
}

// realImage walks Searching -> Selecting -> Fetching. It returns the error that
// should send the machine to Fallback.
func (o *Orchestrator) realImage(ctx context.Context, m *machine, date time.Time, bbox aoi.BoundingBox) (*raster.Image, catalog.SceneCandidate, error) {
	q := catalog.Query{
		BBox:          bbox,
		Window:        catalog.NewSearchWindow(date, o.cfg.ToleranceDays),
		MaxCloudCover: o.cfg.MaxCloudCover,
		Limit:         o.cfg.SearchLimit,
	}

	sctx, span := o.tracer.Start(ctx, "catalog.search",
		trace.WithAttributes(attribute.String("backend", o.searcher.Name())),
	)
	outcome := catalog.Search(sctx, o.searcher, q, catalog.Options{
		Timeout: o.cfg.SearchTimeout,
		Ranking: o.cfg.Ranking,
		Logger:  o.logger,
	})
	span.SetAttributes(attribute.Int("candidates", len(outcome.Candidates)))
	if outcome.Err != nil {
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	span.End()
	if o.metrics != nil {
		o.metrics.ObserveSearch(o.searcher.Name(), outcome.Duration)
	}

	if outcome.Err != nil {
		return nil, catalog.SceneCandidate{}, outcome.Err
	}
	if outcome.Empty() {
		return nil, catalog.SceneCandidate{}, fmt.Errorf("%w: %d results discarded for window %s",
			selection.ErrNoCandidateFound, outcome.Discarded, q.Window.Interval())
	}
	m.to(StateSelecting, "")

	sel := selection.Select(outcome.Candidates)
	if !sel.Found {
		return nil, catalog.SceneCandidate{}, sel.Err
	}
	m.to(StateFetching, "")

	fctx, fspan := o.tracer.Start(ctx, "raster.fetch",
		trace.WithAttributes(attribute.String("scene_id", sel.Scene.ID)),
	)
	start := time.Now()
	img, err := o.fetcher.Fetch(fctx, sel.Scene, bbox)
	if o.metrics != nil {
		o.metrics.ObserveFetch(time.Since(start))
	}
	if err == nil {
		if verr := img.Validate(o.cfg.Size); verr != nil {
			err = fmt.Errorf("%w: %w", raster.ErrFetchFailed, verr)
		}
	}
	if err != nil {
		fspan.SetStatus(codes.Error, err.Error())
	}
	fspan.End()

	if err != nil {
		return nil, catalog.SceneCandidate{}, err
	}
	return img, sel.Scene, nil
}
