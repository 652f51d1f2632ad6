package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/raster"
	"github.com/robert-malhotra/changewatch/internal/selection"
)

// State is a step of the per-date acquisition.
type State string

const (
	StateSearching State = "searching"
	StateSelecting State = "selecting"
	StateFetching  State = "fetching"
	StateFallback  State = "fallback"
	StateDone      State = "done"
)

// Transition records one state change and, for failures, the error kind that caused it.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// allowed lists every legal transition.
var allowed = map[State][]State{
	StateSearching: {StateSelecting, StateFallback},
	StateSelecting: {StateFetching, StateFallback},
	StateFetching:  {StateDone, StateFallback},
	StateFallback:  {StateDone},
}

// machine tracks the state of one acquisition.
type machine struct {
	state State
	trace []Transition
}

func newMachine() *machine {
	return &machine{state: StateSearching}
}

func (m *machine) to(next State, reason string) {
	legal := false
	for _, s := range allowed[m.state] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		panic("acquire: illegal transition " + string(m.state) + " -> " + string(next))
	}
	m.trace = append(m.trace, Transition{From: m.state, To: next, Reason: reason, At: time.Now().UTC()})
	m.state = next
}

// Error kinds used in logs, metric labels and transition reasons.
const (
	KindInvalidGeometry   = "invalid_geometry"
	KindSearchUnavailable = "search_unavailable"
	KindNoCandidateFound  = "no_candidate_found"
	KindFetchFailed       = "fetch_failed"
	KindBandMissing       = "band_missing"
	KindEmptyCrop         = "empty_crop"
	KindCanceled          = "canceled"
	KindUnknown           = "unknown"
)

// Kind maps an error to its taxonomy name.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, aoi.ErrInvalidGeometry):
		return KindInvalidGeometry
	case errors.Is(err, catalog.ErrSearchUnavailable):
		return KindSearchUnavailable
	case errors.Is(err, selection.ErrNoCandidateFound):
		return KindNoCandidateFound
	case errors.Is(err, raster.ErrBandMissing):
		return KindBandMissing
	case errors.Is(err, raster.ErrEmptyCrop):
		return KindEmptyCrop
	case errors.Is(err, raster.ErrFetchFailed):
		return KindFetchFailed
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}
