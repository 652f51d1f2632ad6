package cmr

import (
	"fmt"
	"strconv"
	"time"
)

// UMMSearchResponse represents a CMR UMM-G search response.
type UMMSearchResponse struct {
	Hits  int             `json:"hits"`
	Took  int             `json:"took"`
	Items []UMMResultItem `json:"items"`
}

// UMMResultItem wraps a UMM granule with metadata.
type UMMResultItem struct {
	Meta UMMMeta    `json:"meta"`
	UMM  UMMGranule `json:"umm"`
}

// UMMMeta contains metadata about a CMR result item.
type UMMMeta struct {
	ConceptID  string `json:"concept-id"`
	ProviderID string `json:"provider-id"`
}

// UMMGranule is the subset of a UMM-G record needed to pick and fetch a scene.
type UMMGranule struct {
	GranuleUR            string                `json:"GranuleUR"`
	CollectionReference  CollectionReference   `json:"CollectionReference"`
	RelatedUrls          []RelatedURL          `json:"RelatedUrls,omitempty"`
	TemporalExtent       *TemporalExtent       `json:"TemporalExtent,omitempty"`
	SpatialExtent        *SpatialExtent        `json:"SpatialExtent,omitempty"`
	Platforms            []Platform            `json:"Platforms,omitempty"`
	AdditionalAttributes []AdditionalAttribute `json:"AdditionalAttributes,omitempty"`
	CloudCover           *float64              `json:"CloudCover,omitempty"`
}

// CollectionReference identifies the parent collection.
type CollectionReference struct {
	ShortName string `json:"ShortName"`
	Version   string `json:"Version"`
}

// RelatedURL represents a URL related to the granule.
type RelatedURL struct {
	URL  string `json:"URL"`
	Type string `json:"Type"` // e.g., "GET DATA", "GET RELATED VISUALIZATION"
}

// TemporalExtent contains temporal information.
type TemporalExtent struct {
	RangeDateTime  *RangeDateTime `json:"RangeDateTime,omitempty"`
	SingleDateTime string         `json:"SingleDateTime,omitempty"`
}

// RangeDateTime represents a time range.
type RangeDateTime struct {
	BeginningDateTime string `json:"BeginningDateTime"`
	EndingDateTime    string `json:"EndingDateTime"`
}

// SpatialExtent contains spatial information.
type SpatialExtent struct {
	HorizontalSpatialDomain *HorizontalSpatialDomain `json:"HorizontalSpatialDomain,omitempty"`
}

// HorizontalSpatialDomain contains horizontal spatial domain information.
type HorizontalSpatialDomain struct {
	Geometry *Geometry `json:"Geometry,omitempty"`
}

// Geometry contains geometry information.
type Geometry struct {
	GPolygons          []GPolygon          `json:"GPolygons,omitempty"`
	BoundingRectangles []BoundingRectangle `json:"BoundingRectangles,omitempty"`
}

// GPolygon represents a polygon geometry.
type GPolygon struct {
	Boundary Boundary `json:"Boundary"`
}

// Boundary contains boundary points.
type Boundary struct {
	Points []Point `json:"Points"`
}

// Point represents a geographic point.
type Point struct {
	Longitude float64 `json:"Longitude"`
	Latitude  float64 `json:"Latitude"`
}

// BoundingRectangle represents a bounding box.
type BoundingRectangle struct {
	WestBoundingCoordinate  float64 `json:"WestBoundingCoordinate"`
	NorthBoundingCoordinate float64 `json:"NorthBoundingCoordinate"`
	EastBoundingCoordinate  float64 `json:"EastBoundingCoordinate"`
	SouthBoundingCoordinate float64 `json:"SouthBoundingCoordinate"`
}

// Platform contains platform information.
type Platform struct {
	ShortName string `json:"ShortName"`
}

// AdditionalAttribute contains additional attribute information.
type AdditionalAttribute struct {
	Name   string   `json:"Name"`
	Values []string `json:"Values"`
}

// GetAdditionalAttribute retrieves a specific additional attribute by name.
func (g *UMMGranule) GetAdditionalAttribute(name string) []string {
	for _, attr := range g.AdditionalAttributes {
		if attr.Name == name {
			return attr.Values
		}
	}
	return nil
}

// GetCloudCover returns the granule cloud cover. HLS records it in the
// CLOUD_COVERAGE attribute as well as the CloudCover field.
func (g *UMMGranule) GetCloudCover() (float64, bool) {
	if g.CloudCover != nil {
		return *g.CloudCover, true
	}
	if vals := g.GetAdditionalAttribute("CLOUD_COVERAGE"); len(vals) > 0 {
		if f, err := strconv.ParseFloat(vals[0], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// GetStartTime returns the start time of the granule.
func (g *UMMGranule) GetStartTime() (time.Time, error) {
	if g.TemporalExtent == nil {
		return time.Time{}, nil
	}

	if g.TemporalExtent.RangeDateTime != nil && g.TemporalExtent.RangeDateTime.BeginningDateTime != "" {
		return parseTime(g.TemporalExtent.RangeDateTime.BeginningDateTime)
	}

	if g.TemporalExtent.SingleDateTime != "" {
		return parseTime(g.TemporalExtent.SingleDateTime)
	}

	return time.Time{}, nil
}

// GetDataURLs returns every download URL of the granule.
func (g *UMMGranule) GetDataURLs() []string {
	var urls []string
	for _, u := range g.RelatedUrls {
		if u.Type == "GET DATA" {
			urls = append(urls, u.URL)
		}
	}
	return urls
}

// parseTime parses a CMR timestamp string.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}
