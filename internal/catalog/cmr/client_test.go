package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/earthdata"
)

func floatPtr(f float64) *float64 { return &f }

func hlsGranule(ur string, cloud float64, start string) UMMGranule {
	base := "https://data.lpdaac.earthdatacloud.nasa.gov/lp-prod-protected/HLSS30.020/" + ur + "/" + ur
	return UMMGranule{
		GranuleUR:           ur,
		CollectionReference: CollectionReference{ShortName: "HLSS30", Version: "2.0"},
		CloudCover:          floatPtr(cloud),
		TemporalExtent: &TemporalExtent{
			RangeDateTime: &RangeDateTime{BeginningDateTime: start, EndingDateTime: start},
		},
		SpatialExtent: &SpatialExtent{
			HorizontalSpatialDomain: &HorizontalSpatialDomain{
				Geometry: &Geometry{
					GPolygons: []GPolygon{{Boundary: Boundary{Points: []Point{
						{Longitude: 73.0, Latitude: 18.0},
						{Longitude: 74.0, Latitude: 18.0},
						{Longitude: 74.0, Latitude: 19.0},
						{Longitude: 73.0, Latitude: 19.0},
						{Longitude: 73.0, Latitude: 18.0},
					}}}},
				},
			},
		},
		Platforms: []Platform{{ShortName: "Sentinel-2A"}},
		RelatedUrls: []RelatedURL{
			{URL: "s3://lp-prod-protected/HLSS30.020/" + ur + "/" + ur + ".B04.tif", Type: "GET DATA VIA DIRECT ACCESS"},
			{URL: base + ".B04.tif", Type: "GET DATA"},
			{URL: base + ".B03.tif", Type: "GET DATA"},
			{URL: base + ".B02.tif", Type: "GET DATA"},
			{URL: base + ".Fmask.tif", Type: "GET DATA"},
			{URL: base + ".jpg", Type: "GET RELATED VISUALIZATION"},
		},
	}
}

func TestSearchParams_ToURLValues(t *testing.T) {
	params := &SearchParams{
		ShortName:   "HLSS30",
		BoundingBox: "-180,-90,180,90",
		Temporal:    "2020-01-01T00:00:00Z,2020-12-31T23:59:59Z",
		CloudCover:  "0,20",
		PageSize:    100,
	}

	encoded := params.ToURLValues().Encode()
	for _, want := range []string{
		"short_name=HLSS30",
		"bounding_box=-180%2C-90%2C180%2C90",
		"temporal=2020-01-01T00",
		"cloud_cover=0%2C20",
		"page_size=100",
		"sort_key=cloud_cover",
	} {
		if !strings.Contains(encoded, want) {
			t.Errorf("ToURLValues() = %s, want to contain %s", encoded, want)
		}
	}
}

func TestClient_ParamsFromQuery(t *testing.T) {
	client := NewClient(Config{})
	params := client.ParamsFromQuery(catalog.Query{
		BBox:          aoi.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1},
		Window:        catalog.NewSearchWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 15),
		MaxCloudCover: 20,
	})

	if params.BoundingBox != "0,0,1,1" {
		t.Errorf("unexpected bounding box %s", params.BoundingBox)
	}
	if params.Temporal != "2024-05-17T00:00:00Z,2024-06-16T23:59:59Z" {
		t.Errorf("unexpected temporal %s", params.Temporal)
	}
	if params.CloudCover != "0,20" {
		t.Errorf("unexpected cloud cover %s", params.CloudCover)
	}
	if params.ShortName != DefaultShortName || params.PageSize != DefaultPageSize {
		t.Errorf("unexpected defaults %s/%d", params.ShortName, params.PageSize)
	}
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/granules.umm_json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("provider"); got != DefaultProvider {
			t.Errorf("expected provider %s, got %s", DefaultProvider, got)
		}
		if got := r.URL.Query().Get("cloud_cover"); got != "0,20" {
			t.Errorf("expected cloud_cover 0,20, got %s", got)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("expected basic auth")
		}

		noCloud := hlsGranule("HLS.S30.T43QCU.2024160T053641.v2.0", 0, "2024-06-08T05:36:41.000Z")
		noCloud.CloudCover = nil

		resp := UMMSearchResponse{
			Hits: 2,
			Items: []UMMResultItem{
				{Meta: UMMMeta{ConceptID: "G1-LPCLOUD"}, UMM: hlsGranule("HLS.S30.T43QCU.2024156T053641.v2.0", 7, "2024-06-04T05:36:41.000Z")},
				{Meta: UMMMeta{ConceptID: "G2-LPCLOUD"}, UMM: noCloud},
			},
		}
		w.Header().Set("Content-Type", "application/vnd.nasa.cmr.umm_results+json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		Credentials: earthdata.Credentials{Username: "user", Password: "pass", Hosts: []string{"127.0.0.1"}},
	})

	candidates, err := client.Search(context.Background(), catalog.Query{
		BBox:          aoi.BoundingBox{MinLon: 73.8, MinLat: 18.5, MaxLon: 73.9, MaxLat: 18.6},
		Window:        catalog.NewSearchWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 15),
		MaxCloudCover: 20,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].CloudCover != 7 {
		t.Errorf("unexpected cloud cover %v", candidates[0].CloudCover)
	}
}

func TestClient_SearchNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"errors":["maintenance"]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second})
	_, err := client.SearchGranules(context.Background(), &SearchParams{})
	if !errors.Is(err, catalog.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status code: %v", err)
	}
}

func TestGranuleToCandidate(t *testing.T) {
	g := hlsGranule("HLS.S30.T43QCU.2024156T053641.v2.0", 12.5, "2024-06-04T05:36:41.000Z")

	cand, err := GranuleToCandidate(&g, DefaultBandSuffixes)
	if err != nil {
		t.Fatalf("GranuleToCandidate failed: %v", err)
	}

	if cand.ID != g.GranuleUR || cand.Collection != "HLSS30" || cand.Platform != "sentinel-2a" {
		t.Errorf("unexpected identity %+v", cand)
	}
	if !cand.Acquired.Equal(time.Date(2024, 6, 4, 5, 36, 41, 0, time.UTC)) {
		t.Errorf("unexpected acquired %v", cand.Acquired)
	}
	if cand.Footprint != (aoi.BoundingBox{MinLon: 73, MinLat: 18, MaxLon: 74, MaxLat: 19}) {
		t.Errorf("unexpected footprint %v", cand.Footprint)
	}
	red, ok := cand.Band(catalog.BandRed)
	if !ok || !strings.HasPrefix(red, "https://") || !strings.HasSuffix(red, ".B04.tif") {
		t.Errorf("unexpected red href %q", red)
	}
	if len(cand.Bands) != 3 {
		t.Errorf("expected 3 bands, got %v", cand.Bands)
	}
}

func TestGranuleToCandidate_Fallbacks(t *testing.T) {
	g := hlsGranule("G", 0, "2024-06-04T05:36:41Z")
	g.CloudCover = nil
	g.AdditionalAttributes = []AdditionalAttribute{{Name: "CLOUD_COVERAGE", Values: []string{"3"}}}
	g.SpatialExtent.HorizontalSpatialDomain.Geometry = &Geometry{
		BoundingRectangles: []BoundingRectangle{{
			WestBoundingCoordinate: 1, SouthBoundingCoordinate: 2,
			EastBoundingCoordinate: 3, NorthBoundingCoordinate: 4,
		}},
	}

	cand, err := GranuleToCandidate(&g, DefaultBandSuffixes)
	if err != nil {
		t.Fatalf("GranuleToCandidate failed: %v", err)
	}
	if cand.CloudCover != 3 {
		t.Errorf("expected CLOUD_COVERAGE fallback, got %v", cand.CloudCover)
	}
	if cand.Footprint != (aoi.BoundingBox{MinLon: 1, MinLat: 2, MaxLon: 3, MaxLat: 4}) {
		t.Errorf("unexpected footprint %v", cand.Footprint)
	}
}

func TestGranuleToCandidate_Unusable(t *testing.T) {
	noTime := hlsGranule("G", 1, "")
	noTime.TemporalExtent = nil

	noSpace := hlsGranule("G", 1, "2024-06-04T05:36:41Z")
	noSpace.SpatialExtent = nil

	for name, g := range map[string]UMMGranule{
		"no id":    {},
		"no time":  noTime,
		"no space": noSpace,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := GranuleToCandidate(&g, DefaultBandSuffixes); err == nil {
				t.Error("expected error")
			}
		})
	}
}
