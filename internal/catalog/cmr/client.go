// Package cmr searches NASA's Common Metadata Repository (CMR) for optical
// granules such as Harmonized Landsat Sentinel-2 (HLS).
package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/earthdata"
)

const (
	// DefaultBaseURL is the default CMR API base URL.
	DefaultBaseURL = "https://cmr.earthdata.nasa.gov/search"

	// DefaultProvider hosts the HLS collections.
	DefaultProvider = "LPCLOUD"

	// DefaultShortName is the HLS Sentinel-2 collection.
	DefaultShortName = "HLSS30"

	// DefaultPageSize is the default number of results per page.
	DefaultPageSize = 10

	// MaxPageSize is the maximum page size supported by CMR.
	MaxPageSize = 2000
)

// DefaultBandSuffixes maps logical bands to HLS S30 file suffixes.
var DefaultBandSuffixes = map[string]string{
	catalog.BandRed:   ".B04.tif",
	catalog.BandGreen: ".B03.tif",
	catalog.BandBlue:  ".B02.tif",
}

// Config configures a CMR client.
type Config struct {
	BaseURL      string
	Provider     string
	ShortName    string
	BandSuffixes map[string]string
	PageSize     int
	Timeout      time.Duration
	Credentials  earthdata.Credentials
}

// Client handles communication with the CMR API.
type Client struct {
	baseURL      string
	provider     string
	shortName    string
	bandSuffixes map[string]string
	pageSize     int
	creds        earthdata.Credentials
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates a new CMR API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Provider == "" {
		cfg.Provider = DefaultProvider
	}
	if cfg.ShortName == "" {
		cfg.ShortName = DefaultShortName
	}
	if len(cfg.BandSuffixes) == 0 {
		cfg.BandSuffixes = DefaultBandSuffixes
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = catalog.DefaultTimeout
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		provider:     cfg.Provider,
		shortName:    cfg.ShortName,
		bandSuffixes: cfg.BandSuffixes,
		pageSize:     cfg.PageSize,
		creds:        cfg.Credentials,
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
func (c *Client) Name() string { return "cmr" }

// SearchParams represents parameters for CMR granule searches.
type SearchParams struct {
	ShortName   string
	BoundingBox string // west,south,east,north
	Temporal    string // start,end in ISO 8601 format
	CloudCover  string // min,max
	PageSize    int
	SortKey     string
}

// ToURLValues converts SearchParams to URL query parameters.
func (p *SearchParams) ToURLValues() url.Values {
	values := url.Values{}

	if p.ShortName != "" {
		values.Set("short_name", p.ShortName)
	}
	if p.BoundingBox != "" {
		values.Set("bounding_box", p.BoundingBox)
	}
	if p.Temporal != "" {
		values.Set("temporal", p.Temporal)
	}
	if p.CloudCover != "" {
		values.Set("cloud_cover", p.CloudCover)
	}

	if p.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(p.PageSize))
	} else {
		values.Set("page_size", strconv.Itoa(DefaultPageSize))
	}

	// Lowest cloud first; the catalog package still re-sorts.
	if p.SortKey != "" {
		values.Set("sort_key", p.SortKey)
	} else {
		values.Set("sort_key", "cloud_cover")
	}

	return values
}

// ParamsFromQuery builds CMR parameters for a catalog query.
func (c *Client) ParamsFromQuery(q catalog.Query) *SearchParams {
	pageSize := q.Limit
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return &SearchParams{
		ShortName:   c.shortName,
		BoundingBox: q.BBox.CMRString(),
		Temporal:    q.Window.Start().Format(time.RFC3339) + "," + q.Window.End().Format(time.RFC3339),
		CloudCover:  "0," + strconv.FormatFloat(q.MaxCloudCover, 'f', -1, 64),
		PageSize:    pageSize,
	}
}

// Search implements catalog.Searcher.
func (c *Client) Search(ctx context.Context, q catalog.Query) ([]catalog.SceneCandidate, error) {
	granules, err := c.SearchGranules(ctx, c.ParamsFromQuery(q))
	if err != nil {
		return nil, err
	}

	candidates := make([]catalog.SceneCandidate, 0, len(granules))
	for i := range granules {
		cand, err := GranuleToCandidate(&granules[i], c.bandSuffixes)
		if err != nil {
			c.logger.DebugContext(ctx, "skipping granule",
				slog.String("error", err.Error()),
			)
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// SearchGranules performs a granule search against CMR.
func (c *Client) SearchGranules(ctx context.Context, params *SearchParams) ([]UMMGranule, error) {
	searchURL := c.baseURL + "/granules.umm_json"

	queryParams := params.ToURLValues()
	queryParams.Set("provider", c.provider)

	c.logger.DebugContext(ctx, "executing CMR search",
		slog.String("url", searchURL),
		slog.String("params", queryParams.Encode()),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL+"?"+queryParams.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.nasa.cmr.umm_results+json")
	req.Header.Set("User-Agent", "changewatch/1.0")
	c.creds.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "CMR API request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: CMR API request failed: %w", catalog.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "CMR API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, fmt.Errorf("%w: CMR API returned status %d: %s", catalog.ErrSearchUnavailable, resp.StatusCode, string(body))
	}

	var cmrResp UMMSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmrResp); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode CMR response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: failed to decode CMR response: %w", catalog.ErrSearchUnavailable, err)
	}

	granules := make([]UMMGranule, 0, len(cmrResp.Items))
	for _, item := range cmrResp.Items {
		granules = append(granules, item.UMM)
	}

	c.logger.DebugContext(ctx, "CMR search completed",
		slog.Int("hits", cmrResp.Hits),
		slog.Int("returned", len(granules)),
	)

	return granules, nil
}
