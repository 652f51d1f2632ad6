package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/changewatch/internal/catalog/cmr"
	"github.com/robert-malhotra/changewatch/internal/catalog/stacapi"
	"github.com/robert-malhotra/changewatch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_ServesHealthAndMetrics(t *testing.T) {
	srv, err := New(Options{
		Config:     testConfig(t),
		Registerer: prometheus.NewRegistry(),
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	defer srv.Close()

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	srv.Metrics().RecordCycle("changed")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `changewatch_cycles_total{outcome="changed"} 1`)
	assert.Contains(t, w.Body.String(), "changewatch_cache_entries 0")
	assert.Contains(t, w.Body.String(), "changewatch_cache_oldest_entry_age_seconds 0")

	assert.Equal(t, 416, srv.Orchestrator().Config().Size)
	assert.NotNil(t, srv.Runner())
}

func TestNew_RejectsInvalidGeometryBeforeSearch(t *testing.T) {
	srv, err := New(Options{Config: testConfig(t), Registerer: prometheus.NewRegistry(), Logger: quietLogger()})
	require.NoError(t, err)
	defer srv.Close()

	body := `{"polygon":[[0,0],[1,0],[1,1],[0,1]],"before":"2023-06-01","after":"2024-06-01"}`
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/acquisitions", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid geometry")
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewSearcher(t *testing.T) {
	cfg := testConfig(t)

	s, err := NewSearcher(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &stacapi.Client{}, s)

	cfg.Catalog.Type = "cmr"
	s, err = NewSearcher(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &cmr.Client{}, s)
	assert.Equal(t, "cmr", s.Name())

	cfg.Catalog.Type = "asf"
	_, err = NewSearcher(cfg, quietLogger())
	assert.Error(t, err)
}

func TestClose_NoCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Type = "none"
	cfg.Cache.TTL = time.Minute

	srv, err := New(Options{Config: cfg, Registerer: prometheus.NewRegistry(), Logger: quietLogger()})
	require.NoError(t, err)
	assert.NoError(t, srv.Close())
}
