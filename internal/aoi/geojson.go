package aoi

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadFile reads the area of interest from a GeoJSON file.
func LoadFile(path string) (Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read area of interest %q: %w", path, err)
	}

	polygon, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode area of interest %q: %w", path, err)
	}

	return polygon, nil
}

// Decode extracts the outer ring of the area of interest from a GeoJSON document.
// The document may be a FeatureCollection (the first feature is used), a Feature,
// or a bare geometry. For a MultiPolygon the outer ring of the first polygon is used.
func Decode(data []byte) (Polygon, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	var geometry orb.Geometry
	switch header.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("%w: feature collection is empty", ErrInvalidGeometry)
		}
		geometry = fc.Features[0].Geometry

	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		geometry = f.Geometry

	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		geometry = g.Geometry()
	}

	return ringFromGeometry(geometry)
}

func ringFromGeometry(g orb.Geometry) (Polygon, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil, fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
		}
		return Polygon(geom[0]), nil
	case orb.MultiPolygon:
		if len(geom) == 0 || len(geom[0]) == 0 {
			return nil, fmt.Errorf("%w: multipolygon has no rings", ErrInvalidGeometry)
		}
		return Polygon(geom[0][0]), nil
	case orb.Ring:
		return Polygon(geom), nil
	case orb.LineString:
		return Polygon(geom), nil
	case nil:
		return nil, fmt.Errorf("%w: missing geometry", ErrInvalidGeometry)
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %s", ErrInvalidGeometry, g.GeoJSONType())
	}
}
