package config

import (
	"strings"
	"testing"
	"time"

	"github.com/robert-malhotra/changewatch/internal/catalog"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("expected default address 0.0.0.0:8080, got %s", cfg.Server.Address())
	}

	if cfg.Catalog.Type != "stac" {
		t.Errorf("expected default catalog type stac, got %s", cfg.Catalog.Type)
	}

	if got := cfg.STAC.Collections; len(got) != 1 || got[0] != "sentinel-2-l2a" {
		t.Errorf("expected default collection sentinel-2-l2a, got %v", got)
	}

	if cfg.STAC.AssetKeys["red"] != "red" || len(cfg.STAC.AssetKeys) != 3 {
		t.Errorf("unexpected default asset keys %v", cfg.STAC.AssetKeys)
	}

	if cfg.CMR.BandSuffixes["blue"] != ".B02.tif" {
		t.Errorf("unexpected default band suffixes %v", cfg.CMR.BandSuffixes)
	}

	if cfg.Acquisition.ImageSize != 416 {
		t.Errorf("expected default image size 416, got %d", cfg.Acquisition.ImageSize)
	}

	if cfg.Acquisition.MaxCloudCover != 20 || cfg.Acquisition.ToleranceDays != 15 {
		t.Errorf("unexpected default search limits %v/%d", cfg.Acquisition.MaxCloudCover, cfg.Acquisition.ToleranceDays)
	}

	if cfg.Acquisition.Lookback != 365*24*time.Hour {
		t.Errorf("expected default lookback of 365 days, got %s", cfg.Acquisition.Lookback)
	}

	if cfg.Report.AreaPixels != 500 || cfg.Report.Ratio != 0.02 || cfg.Report.Probability != 0.6 {
		t.Errorf("unexpected default report thresholds %+v", cfg.Report)
	}

	if cfg.Cache.Type != "memory" {
		t.Errorf("expected default cache type memory, got %s", cfg.Cache.Type)
	}

	if cfg.Events.NATSURL != "" {
		t.Errorf("events should be disabled by default, got %q", cfg.Events.NATSURL)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CATALOG_TYPE", "cmr")
	t.Setenv("CATALOG_RANKING", "proximity")
	t.Setenv("CMR_PAGE_SIZE", "50")
	t.Setenv("CMR_BAND_SUFFIXES", "red:_B4.TIF,green:_B3.TIF,blue:_B2.TIF")
	t.Setenv("ACQ_IMAGE_SIZE", "256")
	t.Setenv("ACQ_MAX_CLOUD_COVER", "35.5")
	t.Setenv("EARTHDATA_TOKEN", "edl-token")
	t.Setenv("EARTHDATA_HOSTS", "earthdata.nasa.gov,data.example.org")
	t.Setenv("CACHE_TYPE", "valkey")
	t.Setenv("CACHE_ADDR", "valkey:6379")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Ranking() != catalog.RankByProximity {
		t.Errorf("expected proximity ranking, got %s", cfg.Ranking())
	}

	acq := cfg.Acquire()
	if acq.Size != 256 || acq.MaxCloudCover != 35.5 || acq.SearchLimit != 50 {
		t.Errorf("unexpected acquisition config %+v", acq)
	}

	cmrCfg := cfg.CMRClient()
	if cmrCfg.BandSuffixes["green"] != "_B3.TIF" {
		t.Errorf("unexpected band suffixes %v", cmrCfg.BandSuffixes)
	}
	if cmrCfg.Credentials.Token != "edl-token" {
		t.Error("expected Earthdata token to reach the CMR client")
	}

	if cfg.Fetcher().Credentials.Token != "edl-token" || cfg.Fetcher().Size != 256 {
		t.Errorf("unexpected fetcher config %+v", cfg.Fetcher())
	}
	if creds := cfg.Fetcher().Credentials; !creds.Allowed("tiles.data.example.org") || creds.Allowed("sentinel-cogs.s3.amazonaws.com") {
		t.Errorf("unexpected credential hosts %v", creds.Hosts)
	}

	if fc := cfg.FetchCache(); fc.Type != "valkey" || fc.Addr != "valkey:6379" {
		t.Errorf("unexpected cache config %+v", fc)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected log format text, got %s", cfg.Logging.Format)
	}
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{Type: "stac", Timeout: 30 * time.Second, Ranking: "cloud"},
		STAC: STACConfig{
			URL:         "https://earth-search.aws.element84.com/v1",
			Collections: []string{"sentinel-2-l2a"},
			AssetKeys:   map[string]string{"red": "red", "green": "green", "blue": "blue"},
			Limit:       10,
		},
		CMR: CMRConfig{
			BaseURL:      "https://cmr.earthdata.nasa.gov/search",
			Provider:     "LPCLOUD",
			ShortName:    "HLSS30",
			BandSuffixes: map[string]string{"red": ".B04.tif", "green": ".B03.tif", "blue": ".B02.tif"},
			PageSize:     10,
		},
		Acquisition: AcquisitionConfig{
			ImageSize:      416,
			MaxCloudCover:  20,
			ToleranceDays:  15,
			Lookback:       365 * 24 * time.Hour,
			FetchTimeout:   time.Minute,
			LowPercentile:  2,
			HighPercentile: 98,
		},
		Cache:     CacheConfig{Type: "memory"},
		ChangeNet: ChangeNetConfig{Timeout: 300 * time.Second},
		Report:    ReportConfig{AreaPixels: 500, Ratio: 0.02, Sigma: 2, Probability: 0.6},
		Tracing:   TracingConfig{Exporter: "stdout"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid config with CMR backend", mutate: func(c *Config) { c.Catalog.Type = "cmr" }},
		{name: "zero tolerance", mutate: func(c *Config) { c.Acquisition.ToleranceDays = 0 }},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server port"},
		{name: "unknown catalog", mutate: func(c *Config) { c.Catalog.Type = "asf" }, wantErr: "catalog type"},
		{name: "unknown ranking", mutate: func(c *Config) { c.Catalog.Ranking = "newest" }, wantErr: "ranking"},
		{name: "missing asset key", mutate: func(c *Config) { delete(c.STAC.AssetKeys, "blue") }, wantErr: `"blue" band`},
		{
			name:    "missing band suffix for CMR",
			mutate:  func(c *Config) { c.Catalog.Type = "cmr"; c.CMR.BandSuffixes = nil },
			wantErr: "CMR band suffixes",
		},
		{name: "cloud cover above 100", mutate: func(c *Config) { c.Acquisition.MaxCloudCover = 101 }, wantErr: "max cloud cover"},
		{name: "negative tolerance", mutate: func(c *Config) { c.Acquisition.ToleranceDays = -1 }, wantErr: "tolerance"},
		{name: "zero image size", mutate: func(c *Config) { c.Acquisition.ImageSize = 0 }, wantErr: "image size"},
		{
			name:    "inverted percentiles",
			mutate:  func(c *Config) { c.Acquisition.LowPercentile = 98; c.Acquisition.HighPercentile = 2 },
			wantErr: "percentiles",
		},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Type = "redis" }, wantErr: "cache type"},
		{
			name:    "valkey without address",
			mutate:  func(c *Config) { c.Cache.Type = "valkey"; c.Cache.Addr = "" },
			wantErr: "cache address",
		},
		{name: "ratio above 1", mutate: func(c *Config) { c.Report.Ratio = 2 }, wantErr: "report ratio"},
		{
			name:    "unknown exporter",
			mutate:  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
			wantErr: "tracing exporter",
		},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "log level"},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestThresholdsAndTracer(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing = TracingConfig{Enabled: true, ServiceName: "cw", Exporter: "otlp", Endpoint: "collector:4317", SampleRatio: 0.5}

	if th := cfg.Thresholds(); th.AreaPixels != 500 || th.Sigma != 2 {
		t.Errorf("unexpected thresholds %+v", th)
	}

	tr := cfg.Tracer()
	if !tr.Enabled || tr.Endpoint != "collector:4317" || tr.SampleRatio != 0.5 {
		t.Errorf("unexpected tracing config %+v", tr)
	}
}
