// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for the acquisition pipeline.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "changewatch"

// Collector bundles the pipeline metrics.
type Collector struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	Acquisitions   *prometheus.CounterVec
	Fallbacks      *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	FetchDuration  prometheus.Histogram
	Cycles         *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice on the same registry reuses
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	acquisitions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acquisitions_total",
		Help:      "Finished per-date acquisitions, labeled by date role and raster source.",
	}, []string{"date", "source"}))
	if err != nil {
		return nil, err
	}

	fallbacks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallbacks_total",
		Help:      "Synthetic fallbacks, labeled by date role and originating error kind.",
	}, []string{"date", "reason"}))
	if err != nil {
		return nil, err
	}

	cacheLookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Raster cache lookups, labeled hit or miss.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	searchDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Catalog search latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend"}))
	if err != nil {
		return nil, err
	}

	fetchDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Scene band download and processing latency in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}))
	if err != nil {
		return nil, err
	}

	cycles, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Monitoring cycles, labeled by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		registerer:     reg,
		gatherer:       gatherer,
		Acquisitions:   acquisitions,
		Fallbacks:      fallbacks,
		CacheLookups:   cacheLookups,
		SearchDuration: searchDuration,
		FetchDuration:  fetchDuration,
		Cycles:         cycles,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCacheLookup implements raster.CacheObserver.
func (c *Collector) ObserveCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveSearch records one catalog search.
func (c *Collector) ObserveSearch(backend string, d time.Duration) {
	if c == nil {
		return
	}
	c.SearchDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveFetch records one raster fetch.
func (c *Collector) ObserveFetch(d time.Duration) {
	if c == nil {
		return
	}
	c.FetchDuration.Observe(d.Seconds())
}

// RecordAcquisition counts a finished acquisition for a date role.
func (c *Collector) RecordAcquisition(date, source string) {
	if c == nil {
		return
	}
	c.Acquisitions.WithLabelValues(date, source).Inc()
}

// RecordFallback counts a synthetic fallback and its cause.
func (c *Collector) RecordFallback(date, reason string) {
	if c == nil {
		return
	}
	c.Fallbacks.WithLabelValues(date, reason).Inc()
}

// RecordCycle counts a monitoring cycle outcome.
func (c *Collector) RecordCycle(outcome string) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
}

// CacheStats is implemented by raster caches that can report their size.
type CacheStats interface {
	Stats() (entries int, oldestAge time.Duration)
}

// WatchCache exports the entry count and oldest entry age of cache as gauges
// that are read on every scrape.
func (c *Collector) WatchCache(cache CacheStats) error {
	if c == nil || cache == nil {
		return nil
	}

	if _, err := register(c.registerer, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Rasters held by the in-process cache.",
	}, func() float64 {
		n, _ := cache.Stats()
		return float64(n)
	})); err != nil {
		return err
	}

	_, err := register(c.registerer, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_oldest_entry_age_seconds",
		Help:      "Age of the oldest raster in the in-process cache.",
	}, func() float64 {
		_, age := cache.Stats()
		return age.Seconds()
	}))
	return err
}

// register adds collector to reg, returning the already registered collector
// of the same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
