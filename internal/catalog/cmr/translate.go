package cmr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
)

var errUnusableGranule = errors.New("unusable granule")

// GranuleToCandidate converts a UMM-G granule to a scene candidate. Band hrefs are
// the GET DATA urls whose path ends with the configured suffix.
func GranuleToCandidate(g *UMMGranule, bandSuffixes map[string]string) (catalog.SceneCandidate, error) {
	if g.GranuleUR == "" {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: granule has no GranuleUR", errUnusableGranule)
	}

	acquired, err := g.GetStartTime()
	if err != nil {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: %w", errUnusableGranule, g.GranuleUR, err)
	}
	if acquired.IsZero() {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: no temporal extent", errUnusableGranule, g.GranuleUR)
	}

	cloud, ok := g.GetCloudCover()
	if !ok {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: no cloud cover", errUnusableGranule, g.GranuleUR)
	}

	footprint, ok := granuleFootprint(g)
	if !ok {
		return catalog.SceneCandidate{}, fmt.Errorf("%w: %s: no spatial extent", errUnusableGranule, g.GranuleUR)
	}

	bands := make(map[string]string, len(bandSuffixes))
	for _, href := range g.GetDataURLs() {
		// Skip s3:// duplicates of the https links.
		if !strings.HasPrefix(href, "http") {
			continue
		}
		for band, suffix := range bandSuffixes {
			if _, seen := bands[band]; !seen && strings.HasSuffix(href, suffix) {
				bands[band] = href
			}
		}
	}

	var platform string
	if len(g.Platforms) > 0 {
		platform = strings.ToLower(g.Platforms[0].ShortName)
	}

	return catalog.SceneCandidate{
		ID:         g.GranuleUR,
		Collection: g.CollectionReference.ShortName,
		Platform:   platform,
		Acquired:   acquired,
		CloudCover: cloud,
		Footprint:  footprint,
		Bands:      bands,
	}, nil
}

func granuleFootprint(g *UMMGranule) (aoi.BoundingBox, bool) {
	if g.SpatialExtent == nil || g.SpatialExtent.HorizontalSpatialDomain == nil ||
		g.SpatialExtent.HorizontalSpatialDomain.Geometry == nil {
		return aoi.BoundingBox{}, false
	}
	geom := g.SpatialExtent.HorizontalSpatialDomain.Geometry

	if len(geom.GPolygons) > 0 {
		var ring orb.Ring
		for _, pt := range geom.GPolygons[0].Boundary.Points {
			ring = append(ring, orb.Point{pt.Longitude, pt.Latitude})
		}
		if len(ring) > 0 {
			return aoi.FromBound(ring.Bound()), true
		}
	}

	if len(geom.BoundingRectangles) > 0 {
		rect := geom.BoundingRectangles[0]
		return aoi.BoundingBox{
			MinLon: rect.WestBoundingCoordinate,
			MinLat: rect.SouthBoundingCoordinate,
			MaxLon: rect.EastBoundingCoordinate,
			MaxLat: rect.NorthBoundingCoordinate,
		}, true
	}

	return aoi.BoundingBox{}, false
}
