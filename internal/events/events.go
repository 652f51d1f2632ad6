// Package events publishes monitoring cycle outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/report"
)

// DefaultSubject is the subject cycle events are published on.
const DefaultSubject = "changewatch.cycles"

// ImageInfo describes one of the two rasters of a cycle.
type ImageInfo struct {
	Date           string `json:"date"`
	Source         string `json:"source"`
	SceneID        string `json:"scene_id,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// CycleEvent is the message published after each monitoring cycle.
type CycleEvent struct {
	RunID    string          `json:"run_id"`
	Time     time.Time       `json:"time"`
	BBox     aoi.BoundingBox `json:"bbox"`
	Before   ImageInfo       `json:"before"`
	After    ImageInfo       `json:"after"`
	Degraded bool            `json:"degraded"`
	Analysis report.Analysis `json:"analysis"`
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends cycle events on a fixed subject.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials NATS and returns a publisher for subject. The connection
// retries in the background when the server is not yet reachable.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("changewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject, logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (p *Publisher) WithLogger(logger *slog.Logger) *Publisher {
	p.logger = logger
	return p
}

// PublishCycle encodes the event as JSON and publishes it.
func (p *Publisher) PublishCycle(ctx context.Context, ev CycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode cycle event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish cycle event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cycle event",
		slog.String("subject", p.subject),
		slog.String("run_id", ev.RunID),
	)
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
