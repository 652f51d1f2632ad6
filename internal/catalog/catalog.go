// Package catalog defines the scene search abstraction shared by the imagery
// catalog backends (STAC API, CMR) and the bounded search that the acquisition
// pipeline runs against them.
package catalog

import (
	"context"
	"maps"
	"time"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/geo"
)

// Logical band names. Backends map their own asset naming onto these.
const (
	BandRed   = "red"
	BandGreen = "green"
	BandBlue  = "blue"
)

// VisibleBands lists the bands needed for an RGB raster, in channel order.
var VisibleBands = []string{BandRed, BandGreen, BandBlue}

// Searcher is implemented by every catalog backend.
type Searcher interface {
	// Search executes a single query. Implementations must honor ctx.
	Search(ctx context.Context, q Query) ([]SceneCandidate, error)

	// Name returns the backend name (e.g., "stac", "cmr").
	Name() string
}

// Query describes one catalog search.
type Query struct {
	BBox          aoi.BoundingBox
	Window        SearchWindow
	MaxCloudCover float64
	Limit         int
}

// SceneCandidate is one observation returned by a catalog.
type SceneCandidate struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection,omitempty"`
	Platform   string            `json:"platform,omitempty"`
	Acquired   time.Time         `json:"acquired"`
	CloudCover float64           `json:"cloud_cover"`
	Footprint  aoi.BoundingBox   `json:"footprint"`
	Bands      map[string]string `json:"bands,omitempty"`

	// Grids holds the pixel grid of each band when the catalog publishes
	// projection metadata. Bands without an entry are georeferenced from
	// the raster itself.
	Grids map[string]geo.Grid `json:"grids,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate a returned candidate.
func (s SceneCandidate) Clone() SceneCandidate {
	s.Bands = maps.Clone(s.Bands)
	s.Grids = maps.Clone(s.Grids)
	return s
}

// Band returns the href for a logical band.
func (s SceneCandidate) Band(name string) (string, bool) {
	href, ok := s.Bands[name]
	return href, ok && href != ""
}

// SearchWindow is the inclusive date range [Target - ToleranceDays, Target + ToleranceDays]
// at day granularity in UTC.
type SearchWindow struct {
	Target        time.Time
	ToleranceDays int
}

// NewSearchWindow creates a window around target.
func NewSearchWindow(target time.Time, toleranceDays int) SearchWindow {
	if toleranceDays < 0 {
		toleranceDays = 0
	}
	return SearchWindow{Target: target, ToleranceDays: toleranceDays}
}

// Start returns midnight UTC of the first day in the window.
func (w SearchWindow) Start() time.Time {
	return startOfDay(w.Target).AddDate(0, 0, -w.ToleranceDays)
}

// End returns the last millisecond of the final day in the window.
func (w SearchWindow) End() time.Time {
	return startOfDay(w.Target).AddDate(0, 0, w.ToleranceDays+1).Add(-time.Millisecond)
}

// Contains reports whether t falls inside the window, bounds included.
func (w SearchWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start()) && !t.After(w.End())
}

// Distance returns the absolute distance between t and the target date.
func (w SearchWindow) Distance(t time.Time) time.Duration {
	d := t.Sub(w.Target)
	if d < 0 {
		return -d
	}
	return d
}

// Interval formats the window as an RFC 3339 "start/end" interval.
func (w SearchWindow) Interval() string {
	return w.Start().Format(time.RFC3339) + "/" + w.End().Format(time.RFC3339)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
