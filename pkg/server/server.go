// Package server assembles the changewatch pipeline and its HTTP API so it can
// be run standalone or embedded in another application.
package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robert-malhotra/changewatch/internal/acquire"
	"github.com/robert-malhotra/changewatch/internal/api"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/catalog/cmr"
	"github.com/robert-malhotra/changewatch/internal/catalog/stacapi"
	"github.com/robert-malhotra/changewatch/internal/changenet"
	"github.com/robert-malhotra/changewatch/internal/config"
	"github.com/robert-malhotra/changewatch/internal/events"
	"github.com/robert-malhotra/changewatch/internal/fetchcache"
	"github.com/robert-malhotra/changewatch/internal/monitor"
	"github.com/robert-malhotra/changewatch/internal/observability"
	"github.com/robert-malhotra/changewatch/internal/raster"
)

// Options configures the server.
type Options struct {
	// Config is the validated application configuration (required).
	Config *config.Config

	// Registerer receives the pipeline metrics.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Server holds the assembled pipeline.
type Server struct {
	router       chi.Router
	orchestrator *acquire.Orchestrator
	runner       *monitor.Runner
	metrics      *observability.Collector
	cache        fetchcache.Store
	publisher    *events.Publisher
}

// New builds the catalog backend, raster fetcher and cache, orchestrator,
// model client, cycle runner and router from the configuration.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg, logger := opts.Config, opts.Logger

	metrics, err := observability.NewCollector(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	searcher, err := NewSearcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	cache, err := fetchcache.New(cfg.FetchCache())
	if err != nil {
		return nil, fmt.Errorf("failed to create raster cache: %w", err)
	}
	logger.Info("initialized raster cache", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)
	if stats, ok := cache.(observability.CacheStats); ok {
		if err := metrics.WatchCache(stats); err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("failed to register cache metrics: %w", err)
		}
	}

	fetcher := raster.NewFetcher(cfg.Fetcher()).WithLogger(logger)
	if cache != nil {
		fetcher = fetcher.WithCache(cache, metrics)
	}

	orchestrator := acquire.New(cfg.Acquire(), searcher, fetcher).
		WithLogger(logger).
		WithMetrics(metrics)

	detector := changenet.NewClient(cfg.ChangeNetClient()).WithLogger(logger)
	if cfg.ChangeNet.APIKey == "" {
		logger.Warn("no change detection API key configured, cycles will fail upstream")
	}

	runner := monitor.NewRunner(monitor.Config{
		Lookback: cfg.Acquisition.Lookback,
		Report:   cfg.Thresholds(),
	}, orchestrator, detector).
		WithLogger(logger).
		WithMetrics(metrics)

	var publisher *events.Publisher
	if cfg.Events.NATSURL != "" {
		publisher, err = events.Connect(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			if cache != nil {
				_ = cache.Close()
			}
			return nil, err
		}
		publisher = publisher.WithLogger(logger)
		runner = runner.WithPublisher(publisher)
		logger.Info("publishing cycle events", "subject", cfg.Events.Subject)
	}

	handlers := api.NewHandlers(orchestrator, runner, logger).
		WithMetrics(metrics.Handler()).
		WithLookback(cfg.Acquisition.Lookback)

	return &Server{
		router:       api.NewRouter(handlers, logger, cfg.Server.CORSOrigins),
		orchestrator: orchestrator,
		runner:       runner,
		metrics:      metrics,
		cache:        cache,
		publisher:    publisher,
	}, nil
}

// NewSearcher creates the configured catalog backend.
func NewSearcher(cfg *config.Config, logger *slog.Logger) (catalog.Searcher, error) {
	switch cfg.Catalog.Type {
	case "cmr":
		logger.Info("using CMR catalog", "base_url", cfg.CMR.BaseURL, "short_name", cfg.CMR.ShortName)
		return cmr.NewClient(cfg.CMRClient()).WithLogger(logger), nil
	case "stac", "":
		logger.Info("using STAC catalog", "url", cfg.STAC.URL, "collections", cfg.STAC.Collections)
		return stacapi.NewClient(cfg.STACClient()).WithLogger(logger), nil
	default:
		return nil, fmt.Errorf("unknown catalog type %q", cfg.Catalog.Type)
	}
}

// Router returns the chi.Router for mounting in another application.
func (s *Server) Router() chi.Router {
	return s.router
}

// Orchestrator returns the image acquisition orchestrator.
func (s *Server) Orchestrator() *acquire.Orchestrator {
	return s.orchestrator
}

// Runner returns the monitoring cycle runner.
func (s *Server) Runner() *monitor.Runner {
	return s.runner
}

// Metrics returns the metrics collector.
func (s *Server) Metrics() *observability.Collector {
	return s.metrics
}

// Close stops the cache janitor and drains the event connection.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return errors.Join(errs...)
}
