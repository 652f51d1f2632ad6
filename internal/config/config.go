// Package config provides configuration management for changewatch.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/robert-malhotra/changewatch/internal/acquire"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/catalog/cmr"
	"github.com/robert-malhotra/changewatch/internal/catalog/stacapi"
	"github.com/robert-malhotra/changewatch/internal/changenet"
	"github.com/robert-malhotra/changewatch/internal/earthdata"
	"github.com/robert-malhotra/changewatch/internal/fetchcache"
	"github.com/robert-malhotra/changewatch/internal/observability"
	"github.com/robert-malhotra/changewatch/internal/raster"
	"github.com/robert-malhotra/changewatch/internal/report"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Catalog     CatalogConfig     `envPrefix:"CATALOG_"`
	STAC        STACConfig        `envPrefix:"STAC_"`
	CMR         CMRConfig         `envPrefix:"CMR_"`
	Acquisition AcquisitionConfig `envPrefix:"ACQ_"`
	Earthdata   EarthdataConfig   `envPrefix:"EARTHDATA_"`
	Cache       CacheConfig       `envPrefix:"CACHE_"`
	ChangeNet   ChangeNetConfig   `envPrefix:"CHANGENET_"`
	Report      ReportConfig      `envPrefix:"REPORT_"`
	Tracing     TracingConfig     `envPrefix:"TRACING_"`
	Events      EventsConfig      `envPrefix:"EVENTS_"`
	Logging     LoggingConfig     `envPrefix:"LOG_"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*"`
}

// CatalogConfig selects the scene catalog backend.
type CatalogConfig struct {
	// Type specifies which backend to use: "stac" or "cmr"
	Type    string        `env:"TYPE" envDefault:"stac"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	// Ranking orders candidates: "cloud" or "proximity"
	Ranking string `env:"RANKING" envDefault:"cloud"`
}

// STACConfig contains STAC API search configuration.
type STACConfig struct {
	URL         string            `env:"URL" envDefault:"https://earth-search.aws.element84.com/v1"`
	Collections []string          `env:"COLLECTIONS" envDefault:"sentinel-2-l2a"`
	AssetKeys   map[string]string `env:"ASSET_KEYS" envDefault:"red:red,green:green,blue:blue"`
	Limit       int               `env:"LIMIT" envDefault:"10"`
}

// CMRConfig contains CMR API client configuration.
type CMRConfig struct {
	BaseURL      string            `env:"BASE_URL" envDefault:"https://cmr.earthdata.nasa.gov/search"`
	Provider     string            `env:"PROVIDER" envDefault:"LPCLOUD"`
	ShortName    string            `env:"SHORT_NAME" envDefault:"HLSS30"`
	BandSuffixes map[string]string `env:"BAND_SUFFIXES" envDefault:"red:.B04.tif,green:.B03.tif,blue:.B02.tif"`
	PageSize     int               `env:"PAGE_SIZE" envDefault:"10"`
}

// AcquisitionConfig contains the image acquisition parameters.
type AcquisitionConfig struct {
	AOIPath        string        `env:"AOI_PATH" envDefault:"data/aoi.geojson"`
	OutputDir      string        `env:"OUTPUT_DIR" envDefault:"data/output"`
	ImageSize      int           `env:"IMAGE_SIZE" envDefault:"416"`
	MaxCloudCover  float64       `env:"MAX_CLOUD_COVER" envDefault:"20"`
	ToleranceDays  int           `env:"TOLERANCE_DAYS" envDefault:"15"`
	Lookback       time.Duration `env:"LOOKBACK" envDefault:"8760h"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	LowPercentile  float64       `env:"LOW_PERCENTILE" envDefault:"2"`
	HighPercentile float64       `env:"HIGH_PERCENTILE" envDefault:"98"`
	MaxBandBytes   int64         `env:"MAX_BAND_BYTES" envDefault:"536870912"`
}

// EarthdataConfig contains NASA Earthdata credentials. A token takes
// precedence over username and password.
type EarthdataConfig struct {
	Token    string `env:"TOKEN"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	// Hosts lists the domains (and their subdomains) that receive the
	// credentials. Requests to any other host are sent anonymously.
	Hosts []string `env:"HOSTS" envSeparator:"," envDefault:"earthdata.nasa.gov,earthdatacloud.nasa.gov"`
}

// CacheConfig configures the raster fetch cache.
type CacheConfig struct {
	// Type specifies the backend: "memory", "valkey" or "none"
	Type            string        `env:"TYPE" envDefault:"memory"`
	Addr            string        `env:"ADDR" envDefault:"localhost:6379"`
	TTL             time.Duration `env:"TTL" envDefault:"1h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
}

// ChangeNetConfig configures the change detection model endpoint.
type ChangeNetConfig struct {
	URL       string        `env:"URL" envDefault:"https://ai.api.nvidia.com/v1/cv/nvidia/visual-changenet"`
	AssetsURL string        `env:"ASSETS_URL" envDefault:"https://api.nvcf.nvidia.com/v2/nvcf/assets"`
	APIKey    string        `env:"API_KEY"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"300s"`
}

// ReportConfig contains the change decision thresholds.
type ReportConfig struct {
	AreaPixels  int     `env:"AREA_PIXELS" envDefault:"500"`
	Ratio       float64 `env:"RATIO" envDefault:"0.02"`
	Sigma       float64 `env:"SIGMA" envDefault:"2"`
	Probability float64 `env:"PROBABILITY" envDefault:"0.6"`
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"changewatch"`
	Exporter    string  `env:"EXPORTER" envDefault:"stdout"`
	Endpoint    string  `env:"ENDPOINT" envDefault:"localhost:4317"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// EventsConfig configures cycle event publishing. An empty NATS URL disables it.
type EventsConfig struct {
	NATSURL string `env:"NATS_URL"`
	Subject string `env:"SUBJECT" envDefault:"changewatch.cycles"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
// It returns an error if a value cannot be parsed or is invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	switch c.Catalog.Type {
	case "stac":
		if c.STAC.URL == "" {
			return fmt.Errorf("STAC URL is required")
		}
		if len(c.STAC.Collections) == 0 {
			return fmt.Errorf("at least one STAC collection is required")
		}
		if err := checkBands("STAC asset keys", c.STAC.AssetKeys); err != nil {
			return err
		}
	case "cmr":
		if c.CMR.BaseURL == "" {
			return fmt.Errorf("CMR base URL is required")
		}
		if c.CMR.ShortName == "" {
			return fmt.Errorf("CMR short name is required")
		}
		if err := checkBands("CMR band suffixes", c.CMR.BandSuffixes); err != nil {
			return err
		}
	default:
		return fmt.Errorf("catalog type must be 'stac' or 'cmr', got %q", c.Catalog.Type)
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive, got %s", c.Catalog.Timeout)
	}
	if _, err := catalog.ParseRanking(c.Catalog.Ranking); err != nil {
		return err
	}

	a := c.Acquisition
	if a.ImageSize < 1 {
		return fmt.Errorf("image size must be positive, got %d", a.ImageSize)
	}
	if a.MaxCloudCover < 0 || a.MaxCloudCover > 100 {
		return fmt.Errorf("max cloud cover must be between 0 and 100, got %v", a.MaxCloudCover)
	}
	if a.ToleranceDays < 0 {
		return fmt.Errorf("tolerance days must not be negative, got %d", a.ToleranceDays)
	}
	if a.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %s", a.Lookback)
	}
	if a.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", a.FetchTimeout)
	}
	if a.LowPercentile < 0 || a.HighPercentile > 100 || a.LowPercentile >= a.HighPercentile {
		return fmt.Errorf("stretch percentiles must satisfy 0 <= low < high <= 100, got %v/%v", a.LowPercentile, a.HighPercentile)
	}

	switch c.Cache.Type {
	case fetchcache.TypeMemory, fetchcache.TypeNone:
	case fetchcache.TypeValkey:
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache address is required for the valkey cache")
		}
	default:
		return fmt.Errorf("cache type must be 'memory', 'valkey' or 'none', got %q", c.Cache.Type)
	}

	if c.ChangeNet.Timeout <= 0 {
		return fmt.Errorf("changenet timeout must be positive, got %s", c.ChangeNet.Timeout)
	}

	if c.Report.AreaPixels < 0 {
		return fmt.Errorf("report area threshold must not be negative, got %d", c.Report.AreaPixels)
	}
	if c.Report.Ratio < 0 || c.Report.Ratio > 1 {
		return fmt.Errorf("report ratio must be between 0 and 1, got %v", c.Report.Ratio)
	}
	if c.Report.Probability < 0 || c.Report.Probability > 1 {
		return fmt.Errorf("report probability must be between 0 and 1, got %v", c.Report.Probability)
	}
	if c.Report.Sigma < 0 {
		return fmt.Errorf("report sigma must not be negative, got %v", c.Report.Sigma)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
		return fmt.Errorf("tracing exporter must be 'stdout' or 'otlp', got %q", c.Tracing.Exporter)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

func checkBands(what string, m map[string]string) error {
	for _, band := range catalog.VisibleBands {
		if m[band] == "" {
			return fmt.Errorf("%s must map the %q band", what, band)
		}
	}
	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Credentials returns the Earthdata credentials.
func (c *Config) Credentials() earthdata.Credentials {
	return earthdata.Credentials{
		Token:    c.Earthdata.Token,
		Username: c.Earthdata.Username,
		Password: c.Earthdata.Password,
		Hosts:    c.Earthdata.Hosts,
	}
}

// Ranking returns the parsed candidate ranking. Validate rejects unknown values.
func (c *Config) Ranking() catalog.Ranking {
	r, err := catalog.ParseRanking(c.Catalog.Ranking)
	if err != nil {
		return catalog.DefaultRanking
	}
	return r
}

// STACClient returns the STAC backend settings.
func (c *Config) STACClient() stacapi.Config {
	return stacapi.Config{
		URL:         c.STAC.URL,
		Collections: c.STAC.Collections,
		AssetKeys:   c.STAC.AssetKeys,
		Limit:       c.STAC.Limit,
		Timeout:     c.Catalog.Timeout,
	}
}

// CMRClient returns the CMR backend settings.
func (c *Config) CMRClient() cmr.Config {
	return cmr.Config{
		BaseURL:      c.CMR.BaseURL,
		Provider:     c.CMR.Provider,
		ShortName:    c.CMR.ShortName,
		BandSuffixes: c.CMR.BandSuffixes,
		PageSize:     c.CMR.PageSize,
		Timeout:      c.Catalog.Timeout,
		Credentials:  c.Credentials(),
	}
}

// Acquire returns the orchestrator settings.
func (c *Config) Acquire() acquire.Config {
	limit := c.STAC.Limit
	if c.Catalog.Type == "cmr" {
		limit = c.CMR.PageSize
	}
	return acquire.Config{
		Size:          c.Acquisition.ImageSize,
		MaxCloudCover: c.Acquisition.MaxCloudCover,
		ToleranceDays: c.Acquisition.ToleranceDays,
		SearchTimeout: c.Catalog.Timeout,
		SearchLimit:   limit,
		Ranking:       c.Ranking(),
	}
}

// Fetcher returns the raster fetcher settings.
func (c *Config) Fetcher() raster.FetcherConfig {
	return raster.FetcherConfig{
		Size:           c.Acquisition.ImageSize,
		Timeout:        c.Acquisition.FetchTimeout,
		LowPercentile:  c.Acquisition.LowPercentile,
		HighPercentile: c.Acquisition.HighPercentile,
		MaxBandBytes:   c.Acquisition.MaxBandBytes,
		Credentials:    c.Credentials(),
	}
}

// FetchCache returns the raster cache settings.
func (c *Config) FetchCache() fetchcache.Config {
	return fetchcache.Config{
		Type:            c.Cache.Type,
		Addr:            c.Cache.Addr,
		TTL:             c.Cache.TTL,
		CleanupInterval: c.Cache.CleanupInterval,
	}
}

// ChangeNetClient returns the model client settings.
func (c *Config) ChangeNetClient() changenet.Config {
	return changenet.Config{
		URL:       c.ChangeNet.URL,
		AssetsURL: c.ChangeNet.AssetsURL,
		APIKey:    c.ChangeNet.APIKey,
		Timeout:   c.ChangeNet.Timeout,
	}
}

// Thresholds returns the change decision thresholds.
func (c *Config) Thresholds() report.Config {
	return report.Config{
		AreaPixels:  c.Report.AreaPixels,
		Ratio:       c.Report.Ratio,
		Sigma:       c.Report.Sigma,
		Probability: c.Report.Probability,
	}
}

// Tracer returns the tracing settings.
func (c *Config) Tracer() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
