// Package geo maps geodetic areas onto the pixel grids of georeferenced rasters.
package geo

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/changewatch/internal/aoi"
)

var (
	// ErrUnsupportedCRS is returned for coordinate reference systems Project
	// cannot transform into.
	ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

	// ErrInvalidGrid is returned for a transform that cannot be inverted.
	ErrInvalidGrid = errors.New("invalid raster grid")
)

// edgeSamples is the number of points projected along each bbox edge. Edges
// of a lon/lat box are curved in UTM.
const edgeSamples = 8

// snapTolerance absorbs floating point noise before pixel edges are rounded.
const snapTolerance = 1e-6

// Grid is the georeferencing of a raster: its CRS and the affine transform
// from pixel (col, row) to CRS coordinates, in STAC proj:transform order:
//
//	x = a*col + b*row + c
//	y = d*col + e*row + f
type Grid struct {
	EPSG      int        `json:"epsg"`
	Transform [6]float64 `json:"transform"`
}

// NewGrid builds a grid from a proj:transform array. Only the first six values
// are used; a trailing 0, 0, 1 row is allowed.
func NewGrid(epsg int, transform []float64) (Grid, error) {
	if epsg <= 0 {
		return Grid{}, fmt.Errorf("%w: missing EPSG code", ErrInvalidGrid)
	}
	if len(transform) != 6 && len(transform) != 9 {
		return Grid{}, fmt.Errorf("%w: transform has %d values", ErrInvalidGrid, len(transform))
	}
	g := Grid{EPSG: epsg}
	copy(g.Transform[:], transform[:6])
	if _, ok := g.inverse(); !ok {
		return Grid{}, fmt.Errorf("%w: transform is singular", ErrInvalidGrid)
	}
	return g, nil
}

// FromExtent returns a lon/lat grid that spreads extent linearly over a
// width x height raster, north up. It is the assumption for rasters that carry
// no georeferencing of their own.
func FromExtent(extent aoi.BoundingBox, width, height int) Grid {
	return Grid{
		EPSG: EPSGWGS84,
		Transform: [6]float64{
			extent.Width() / float64(width), 0, extent.MinLon,
			0, -extent.Height() / float64(height), extent.MaxLat,
		},
	}
}

// ParseEPSG reads a proj:code value such as "EPSG:32643".
func ParseEPSG(code string) (int, bool) {
	num, ok := strings.CutPrefix(strings.ToUpper(code), "EPSG:")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	return n, err == nil && n > 0
}

// IsZero reports whether the grid was never set.
func (g Grid) IsZero() bool { return g == Grid{} }

// Window returns the smallest pixel rectangle covering bbox. The rectangle is
// not clipped to the raster.
func (g Grid) Window(bbox aoi.BoundingBox) (image.Rectangle, error) {
	inv, ok := g.inverse()
	if !ok {
		return image.Rectangle{}, fmt.Errorf("%w: transform is singular", ErrInvalidGrid)
	}

	pixels := make(orb.MultiPoint, 0, 4*edgeSamples)
	for _, p := range densify(bbox) {
		x, y, err := Project(g.EPSG, p.Lon(), p.Lat())
		if err != nil {
			return image.Rectangle{}, err
		}
		pixels = append(pixels, inv.apply(x, y))
	}

	b := pixels.Bound()
	return image.Rect(
		int(math.Floor(snap(b.Min[0]))),
		int(math.Floor(snap(b.Min[1]))),
		int(math.Ceil(snap(b.Max[0]))),
		int(math.Ceil(snap(b.Max[1]))),
	), nil
}

type affine [6]float64

func (t affine) apply(x, y float64) orb.Point {
	return orb.Point{t[0]*x + t[1]*y + t[2], t[3]*x + t[4]*y + t[5]}
}

func (g Grid) inverse() (affine, bool) {
	a, b, c, d, e, f := g.Transform[0], g.Transform[1], g.Transform[2], g.Transform[3], g.Transform[4], g.Transform[5]
	det := a*e - b*d
	if det == 0 || math.IsNaN(det) {
		return affine{}, false
	}
	return affine{
		e / det, -b / det, (b*f - e*c) / det,
		-d / det, a / det, (d*c - a*f) / det,
	}, true
}

// densify returns points along the four edges of bbox.
func densify(bbox aoi.BoundingBox) []orb.Point {
	pts := make([]orb.Point, 0, 4*edgeSamples)
	for i := 0; i < edgeSamples; i++ {
		t := float64(i) / edgeSamples
		lon := bbox.MinLon + t*bbox.Width()
		lat := bbox.MinLat + t*bbox.Height()
		pts = append(pts,
			orb.Point{lon, bbox.MinLat},
			orb.Point{bbox.MaxLon - t*bbox.Width(), bbox.MaxLat},
			orb.Point{bbox.MaxLon, lat},
			orb.Point{bbox.MinLon, bbox.MaxLat - t*bbox.Height()},
		)
	}
	return pts
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		return r
	}
	return v
}
