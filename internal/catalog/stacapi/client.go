// Package stacapi searches a STAC API (e.g., Earth Search) for optical scenes.
package stacapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/planetlabs/go-ogc/filter"
	gostac "github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/changewatch/internal/catalog"
)

const (
	// DefaultURL is the Earth Search STAC API.
	DefaultURL = "https://earth-search.aws.element84.com/v1"

	// DefaultCollection holds Sentinel-2 L2A cloud-optimized GeoTIFFs.
	DefaultCollection = "sentinel-2-l2a"

	// DefaultLimit matches the maxRecords used for the scene search.
	DefaultLimit = 10

	cloudCoverProperty = "eo:cloud_cover"
)

// DefaultAssetKeys maps the logical bands to Earth Search asset keys.
var DefaultAssetKeys = map[string]string{
	catalog.BandRed:   "red",
	catalog.BandGreen: "green",
	catalog.BandBlue:  "blue",
}

// Config configures a STAC API client.
type Config struct {
	URL         string
	Collections []string
	AssetKeys   map[string]string
	Limit       int
	Timeout     time.Duration
}

// Client queries the /search endpoint of a STAC API.
type Client struct {
	baseURL     string
	collections []string
	assetKeys   map[string]string
	limit       int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a new STAC API client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = []string{DefaultCollection}
	}
	if len(cfg.AssetKeys) == 0 {
		cfg.AssetKeys = DefaultAssetKeys
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = catalog.DefaultTimeout
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		collections: cfg.Collections,
		assetKeys:   cfg.AssetKeys,
		limit:       cfg.Limit,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Name returns the backend name.
func (c *Client) Name() string { return "stac" }

// searchRequest is the POST /search body.
type searchRequest struct {
	Collections []string       `json:"collections,omitempty"`
	BBox        []float64      `json:"bbox"`
	Datetime    string         `json:"datetime"`
	Limit       int            `json:"limit"`
	Filter      *filter.Filter `json:"filter,omitempty"`
	FilterLang  string         `json:"filter-lang,omitempty"`
}

// searchResponse is the ItemCollection returned by /search.
type searchResponse struct {
	Type     string         `json:"type"`
	Features []*gostac.Item `json:"features"`
}

// CloudCoverFilter builds the CQL2 expression "eo:cloud_cover <= max".
func CloudCoverFilter(max float64) *filter.Filter {
	return &filter.Filter{
		Expression: &filter.Comparison{
			Name:  filter.LessThanOrEquals,
			Left:  &filter.Property{Name: cloudCoverProperty},
			Right: &filter.Number{Value: max},
		},
	}
}

// Search implements catalog.Searcher.
func (c *Client) Search(ctx context.Context, q catalog.Query) ([]catalog.SceneCandidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.limit
	}

	body, err := json.Marshal(searchRequest{
		Collections: c.collections,
		BBox:        q.BBox.Slice(),
		Datetime:    q.Window.Interval(),
		Limit:       limit,
		Filter:      CloudCoverFilter(q.MaxCloudCover),
		FilterLang:  "cql2-json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	searchURL := c.baseURL + "/search"
	c.logger.DebugContext(ctx, "executing STAC search",
		slog.String("url", searchURL),
		slog.String("body", string(body)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", "changewatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "STAC API request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: STAC API request failed: %w", catalog.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "STAC API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)),
		)
		return nil, fmt.Errorf("%w: STAC API returned status %d: %s", catalog.ErrSearchUnavailable, resp.StatusCode, string(respBody))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read STAC response: %w", catalog.ErrSearchUnavailable, err)
	}

	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("%w: failed to decode STAC response: %w", catalog.ErrSearchUnavailable, err)
	}

	var pr projResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		c.logger.DebugContext(ctx, "ignoring unreadable projection metadata",
			slog.String("error", err.Error()),
		)
	}
	projections := pr.byID()

	candidates := make([]catalog.SceneCandidate, 0, len(sr.Features))
	for _, item := range sr.Features {
		cand, err := ItemToCandidate(item, c.assetKeys)
		if err != nil {
			c.logger.DebugContext(ctx, "skipping STAC item",
				slog.String("error", err.Error()),
			)
			continue
		}
		cand.Grids = projections[cand.ID].grids(c.assetKeys)
		candidates = append(candidates, cand)
	}

	c.logger.DebugContext(ctx, "STAC search completed",
		slog.Int("returned", len(sr.Features)),
		slog.Int("usable", len(candidates)),
	)

	return candidates, nil
}
