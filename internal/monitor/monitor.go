// Package monitor runs one change monitoring cycle: acquire the before and
// after rasters, invoke the change detection model, and threshold its output.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robert-malhotra/changewatch/internal/acquire"
	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/changenet"
	"github.com/robert-malhotra/changewatch/internal/events"
	"github.com/robert-malhotra/changewatch/internal/raster"
	"github.com/robert-malhotra/changewatch/internal/report"
)

// DefaultLookback separates the before date from the after date when only
// the after date is known.
const DefaultLookback = 365 * 24 * time.Hour

// Cycle outcomes used as metric labels.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// ErrInvalidDates is returned when the before date is not earlier than the after date.
var ErrInvalidDates = errors.New("before date must be earlier than after date")

// Acquirer produces the raster pair. acquire.Orchestrator implements it.
type Acquirer interface {
	Acquire(ctx context.Context, polygon aoi.Polygon, before, after time.Time) (*acquire.Result, error)
}

// Detector runs change detection. changenet.Client implements it.
type Detector interface {
	Detect(ctx context.Context, before, after *raster.Image) (*changenet.ChangeMap, error)
}

// Publisher delivers cycle events. events.Publisher implements it.
type Publisher interface {
	PublishCycle(ctx context.Context, ev events.CycleEvent) error
}

// Metrics counts cycle outcomes. observability.Collector implements it.
type Metrics interface {
	RecordCycle(outcome string)
}

// Config holds the cycle parameters.
type Config struct {
	Lookback time.Duration
	Report   report.Config
}

// Request is the input of one cycle. Zero dates are derived: After defaults to
// now and Before to After minus the lookback.
type Request struct {
	Polygon aoi.Polygon
	Before  time.Time
	After   time.Time
}

// CycleReport is the outcome of one cycle.
type CycleReport struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	BBox      aoi.BoundingBox  `json:"bbox"`
	Before    events.ImageInfo `json:"before"`
	After     events.ImageInfo `json:"after"`
	Degraded  bool             `json:"degraded"`
	ChangeMap string           `json:"change_map"`
	Analysis  report.Analysis  `json:"analysis"`
	Published bool             `json:"published"`

	// Acquisition carries the rasters for callers that persist them.
	Acquisition *acquire.Result `json:"-"`
}

// Outcome returns the metric label for the report.
func (r *CycleReport) Outcome() string {
	if r.Analysis.Changed {
		return OutcomeChanged
	}
	return OutcomeUnchanged
}

// Event converts the report into the published message.
func (r *CycleReport) Event() events.CycleEvent {
	return events.CycleEvent{
		RunID:    r.RunID,
		Time:     r.StartedAt,
		BBox:     r.BBox,
		Before:   r.Before,
		After:    r.After,
		Degraded: r.Degraded,
		Analysis: r.Analysis,
	}
}

// Runner executes monitoring cycles.
type Runner struct {
	cfg       Config
	acquirer  Acquirer
	detector  Detector
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRunner creates a runner. A zero report config uses report.DefaultConfig.
func NewRunner(cfg Config, acquirer Acquirer, detector Detector) *Runner {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Report == (report.Config{}) {
		cfg.Report = report.DefaultConfig()
	}
	return &Runner{
		cfg:      cfg,
		acquirer: acquirer,
		detector: detector,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/robert-malhotra/changewatch/internal/monitor"),
		now:      time.Now,
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithPublisher enables cycle event publishing.
func (r *Runner) WithPublisher(p Publisher) *Runner {
	r.publisher = p
	return r
}

// WithMetrics enables cycle metrics.
func (r *Runner) WithMetrics(m Metrics) *Runner {
	r.metrics = m
	return r
}

// WithClock replaces the wall clock used for date derivation.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// ResolveDates fills in missing dates from now and the lookback.
func ResolveDates(now, before, after time.Time, lookback time.Duration) (time.Time, time.Time, error) {
	if after.IsZero() {
		after = now.UTC()
	}
	if before.IsZero() {
		before = after.Add(-lookback)
	}
	if !before.Before(after) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: before %s, after %s",
			ErrInvalidDates, before.Format(time.DateOnly), after.Format(time.DateOnly))
	}
	return before, after, nil
}

// Run executes one cycle. Errors from geometry validation, change detection
// and cancellation are returned; event publishing failures are only logged.
func (r *Runner) Run(ctx context.Context, req Request) (*CycleReport, error) {
	started := r.now().UTC()
	runID := uuid.NewString()

	ctx, span := r.tracer.Start(ctx, "cycle", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	rep, err := r.run(ctx, req, runID, started)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.recordCycle(OutcomeFailed)
		r.logger.ErrorContext(ctx, "monitoring cycle failed",
			slog.String("run_id", runID),
			slog.String("kind", acquire.Kind(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("changed", rep.Analysis.Changed),
		attribute.Bool("degraded", rep.Degraded),
	)
	r.recordCycle(rep.Outcome())
	return rep, nil
}

func (r *Runner) run(ctx context.Context, req Request, runID string, started time.Time) (*CycleReport, error) {
	before, after, err := ResolveDates(started, req.Before, req.After, r.cfg.Lookback)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "starting monitoring cycle",
		slog.String("run_id", runID),
		slog.String("before", before.Format(time.DateOnly)),
		slog.String("after", after.Format(time.DateOnly)),
	)

	res, err := r.acquirer.Acquire(ctx, req.Polygon, before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire images: %w", err)
	}
	if res.Degraded() {
		r.logger.WarnContext(ctx, "cycle continues with synthetic imagery",
			slog.String("run_id", runID),
			slog.String("before_source", string(res.Before.Image.Source())),
			slog.String("after_source", string(res.After.Image.Source())),
		)
	}

	cm, err := r.detector.Detect(ctx, res.Before.Image, res.After.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to run change detection: %w", err)
	}

	analysis, err := report.Analyze(cm.Image, r.cfg.Report)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze change map %s: %w", cm.Name, err)
	}

	rep := &CycleReport{
		RunID:       runID,
		StartedAt:   started,
		BBox:        res.BBox,
		Before:      ImageInfo(res.Before),
		After:       ImageInfo(res.After),
		Degraded:    res.Degraded(),
		ChangeMap:   cm.Name,
		Analysis:    analysis,
		Acquisition: res,
	}

	if r.publisher != nil {
		if err := r.publisher.PublishCycle(ctx, rep.Event()); err != nil {
			r.logger.WarnContext(ctx, "failed to publish cycle event",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		} else {
			rep.Published = true
		}
	}

	r.logger.InfoContext(ctx, "monitoring cycle finished",
		slog.String("run_id", runID),
		slog.Bool("changed", analysis.Changed),
		slog.Int("changed_pixels", analysis.ChangedPixels),
		slog.Float64("ratio", analysis.Ratio),
		slog.Bool("degraded", rep.Degraded),
	)
	return rep, nil
}

func (r *Runner) recordCycle(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordCycle(outcome)
	}
}

// ImageInfo summarizes one acquisition for reports and events.
func ImageInfo(a acquire.Acquisition) events.ImageInfo {
	info := events.ImageInfo{
		Date:           a.Date.Format(time.DateOnly),
		FallbackReason: a.FallbackReason,
	}
	if a.Image != nil {
		info.Source = string(a.Image.Source())
		info.SceneID = a.Image.SceneID()
	}
	return info
}
