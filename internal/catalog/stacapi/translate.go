package stacapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	gostac "github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
)

var errUnusableItem = errors.New("unusable STAC item")

// cloudCoverKeys are checked in order. Not every catalog uses the eo prefix.
var cloudCoverKeys = []string{"eo:cloud_cover", "cloudCover", "cloud_cover"}

// ItemToCandidate converts a STAC item into a scene candidate. assetKeys maps
// logical band names to the item's asset keys; bands without an asset are omitted.
func ItemToCandidate(item *gostac.Item, assetKeys map[string]string) (catalog.SceneCandidate, error) {
	if item == nil || item.Id == "" {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: missing id", errUnusableItem)
	}

	acquired, err := itemTime(item.Properties)
	if err != nil {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: %w", errUnusableItem, item.Id, err)
	}

	cloud, ok := cloudCover(item.Properties)
	if !ok {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: no cloud cover", errUnusableItem, item.Id)
	}

	footprint, err := itemFootprint(item)
	if err != nil {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: %w", errUnusableItem, item.Id, err)
	}

	bands := make(map[string]string, len(assetKeys))
	for band, key := range assetKeys {
		if asset, ok := item.Assets[key]; ok && asset != nil && asset.Href != "" {
			bands[band] = asset.Href
		}
	}

	platform, _ := item.Properties["platform"].(string)

	return catalog.SceneCandidate{
		ID:         item.Id,
		Collection: item.Collection,
		Platform:   platform,
		Acquired:   acquired,
		CloudCover: cloud,
		Footprint:  footprint,
		Bands:      bands,
	}, nil
}

func itemTime(props map[string]any) (time.Time, error) {
	for _, key := range []string{"datetime", "start_datetime"} {
		if s, ok := props[key].(string); ok && s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
			}
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("no datetime")
}

func cloudCover(props map[string]any) (float64, bool) {
	for _, key := range cloudCoverKeys {
		switch v := props[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case json.Number:
			f, err := v.Float64()
			return f, err == nil
		}
	}
	return 0, false
}

func itemFootprint(item *gostac.Item) (aoi.BoundingBox, error) {
	if len(item.Bbox) > 0 {
		return aoi.FromSlice(item.Bbox)
	}
	if item.Geometry == nil {
		return aoi.BoundingBox{}, errors.New("no bbox or geometry")
	}

	raw, err := json.Marshal(item.Geometry)
	if err != nil {
		return aoi.BoundingBox{}, fmt.Errorf("invalid geometry: %w", err)
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return aoi.BoundingBox{}, fmt.Errorf("invalid geometry: %w", err)
	}
	return aoi.FromBound(g.Geometry().Bound()), nil
}
