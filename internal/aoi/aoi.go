// Package aoi parses the monitored area of interest into the geodetic bounding box
// used by catalog search and raster cropping.
package aoi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// ErrInvalidGeometry is returned when a polygon is not a closed ring of at least
// four points with valid geodetic coordinates.
var ErrInvalidGeometry = errors.New("invalid geometry")

// minRingPoints is the smallest closed ring: a triangle plus the closing point.
const minRingPoints = 4

// Polygon is an ordered ring of (longitude, latitude) points. The first and last
// points must be equal.
type Polygon []orb.Point

// BoundingBox is an axis-aligned geodetic extent in degrees.
type BoundingBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Parse validates the polygon and returns its bounding box.
func Parse(p Polygon) (BoundingBox, error) {
	if len(p) < minRingPoints {
		return BoundingBox{}, fmt.Errorf("%w: ring has %d points, need at least %d", ErrInvalidGeometry, len(p), minRingPoints)
	}

	for i, pt := range p {
		if !validLon(pt.Lon()) || !validLat(pt.Lat()) {
			return BoundingBox{}, fmt.Errorf("%w: point %d (%v, %v) is outside geodetic range", ErrInvalidGeometry, i, pt.Lon(), pt.Lat())
		}
	}

	ring := orb.Ring(p)
	if !ring.Closed() {
		return BoundingBox{}, fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
	}

	return FromBound(ring.Bound()), nil
}

// FromBound converts an orb bound into a BoundingBox.
func FromBound(b orb.Bound) BoundingBox {
	return BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}
}

// FromSlice builds a BoundingBox from a STAC style [west, south, east, north] array.
// A 6 value 3D bbox drops the elevation values.
func FromSlice(bbox []float64) (BoundingBox, error) {
	switch len(bbox) {
	case 4:
		return BoundingBox{MinLon: bbox[0], MinLat: bbox[1], MaxLon: bbox[2], MaxLat: bbox[3]}, nil
	case 6:
		return BoundingBox{MinLon: bbox[0], MinLat: bbox[1], MaxLon: bbox[3], MaxLat: bbox[4]}, nil
	default:
		return BoundingBox{}, fmt.Errorf("bbox must have 4 or 6 values, got %d", len(bbox))
	}
}

// Bound returns the box as an orb bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Width returns the longitudinal extent in degrees.
func (b BoundingBox) Width() float64 { return b.MaxLon - b.MinLon }

// Height returns the latitudinal extent in degrees.
func (b BoundingBox) Height() float64 { return b.MaxLat - b.MinLat }

// IsZero reports whether the box was never set.
func (b BoundingBox) IsZero() bool { return b == BoundingBox{} }

// IsEmpty reports whether the box encloses no area.
func (b BoundingBox) IsEmpty() bool {
	return !(b.Width() > 0) || !(b.Height() > 0)
}

// Intersects reports whether the two boxes share any point, including edges.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.Bound().Intersects(o.Bound())
}

// Intersect returns the overlap of the two boxes. The boolean is false when the
// overlap has zero area.
func (b BoundingBox) Intersect(o BoundingBox) (BoundingBox, bool) {
	out := BoundingBox{
		MinLon: math.Max(b.MinLon, o.MinLon),
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
	}
	if out.IsEmpty() {
		return BoundingBox{}, false
	}
	return out, true
}

// Slice returns the box as [west, south, east, north].
func (b BoundingBox) Slice() []float64 {
	return []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// CMRString formats the box for the CMR bounding_box parameter (west,south,east,north).
func (b BoundingBox) CMRString() string {
	return formatFloat(b.MinLon) + "," + formatFloat(b.MinLat) + "," +
		formatFloat(b.MaxLon) + "," + formatFloat(b.MaxLat)
}

// Key returns a short stable hash of the box, suitable as a cache key component.
func (b BoundingBox) Key() string {
	sum := sha256.Sum256([]byte(b.CMRString()))
	return hex.EncodeToString(sum[:8])
}

func (b BoundingBox) String() string {
	return "[" + b.CMRString() + "]"
}

func validLon(v float64) bool { return v >= -180 && v <= 180 }
func validLat(v float64) bool { return v >= -90 && v <= 90 }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
