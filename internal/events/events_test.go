package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/report"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishCycle(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "")

	ev := CycleEvent{
		RunID:    "run-1",
		Time:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		BBox:     aoi.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1},
		Before:   ImageInfo{Date: "2023-06-01", Source: "synthetic", FallbackReason: "no_candidate_found"},
		After:    ImageInfo{Date: "2024-06-01", Source: "real", SceneID: "S2A_1"},
		Degraded: true,
		Analysis: report.Analysis{ChangedPixels: 600, TotalPixels: 1000, Ratio: 0.6, Changed: true},
	}
	require.NoError(t, p.PublishCycle(context.Background(), ev))
	assert.Equal(t, DefaultSubject, fc.subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(fc.data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, true, got["degraded"])
	assert.Equal(t, "no_candidate_found", got["before"].(map[string]any)["fallback_reason"])
	assert.NotContains(t, got["after"].(map[string]any), "fallback_reason")
	assert.Equal(t, true, got["analysis"].(map[string]any)["changed"])

	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}

func TestPublishCycle_Errors(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(fc, "custom.subject")

	err := p.PublishCycle(context.Background(), CycleEvent{RunID: "x"})
	assert.ErrorContains(t, err, "connection closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishCycle(ctx, CycleEvent{}), context.Canceled)
}
