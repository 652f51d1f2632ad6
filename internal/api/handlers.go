package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/changewatch/internal/acquire"
	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/changenet"
	"github.com/robert-malhotra/changewatch/internal/events"
	"github.com/robert-malhotra/changewatch/internal/monitor"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Acquirer produces a raster pair. acquire.Orchestrator implements it.
type Acquirer interface {
	Acquire(ctx context.Context, polygon aoi.Polygon, before, after time.Time) (*acquire.Result, error)
}

// CycleRunner runs a full monitoring cycle. monitor.Runner implements it.
type CycleRunner interface {
	Run(ctx context.Context, req monitor.Request) (*monitor.CycleReport, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	acquirer Acquirer
	runner   CycleRunner
	metrics  http.Handler
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(acquirer Acquirer, runner CycleRunner, logger *slog.Logger) *Handlers {
	return &Handlers{
		acquirer: acquirer,
		runner:   runner,
		lookback: monitor.DefaultLookback,
		now:      time.Now,
		logger:   logger,
	}
}

// WithMetrics exposes the given handler on GET /metrics.
func (h *Handlers) WithMetrics(metrics http.Handler) *Handlers {
	h.metrics = metrics
	return h
}

// WithLookback sets the gap used to derive a missing before date.
func (h *Handlers) WithLookback(d time.Duration) *Handlers {
	if d > 0 {
		h.lookback = d
	}
	return h
}

// AreaRequest is the body of POST /acquisitions and POST /cycles. The area is
// either a closed ring of [lon, lat] pairs or a GeoJSON object, never both.
// Dates are YYYY-MM-DD or RFC 3339 and may be omitted.
type AreaRequest struct {
	Polygon  [][]float64     `json:"polygon,omitempty" validate:"omitempty,dive,min=2,max=3"`
	Geometry json.RawMessage `json:"geometry,omitempty" validate:"required_without=Polygon,excluded_with=Polygon"`
	Before   string          `json:"before,omitempty" validate:"omitempty,max=40"`
	After    string          `json:"after,omitempty" validate:"omitempty,max=40"`
}

// ImageResponse describes one raster of an acquisition.
type ImageResponse struct {
	events.ImageInfo
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	CloudCover *float64             `json:"cloud_cover,omitempty"`
	Trace      []acquire.Transition `json:"trace"`
	PNG        string               `json:"png,omitempty"`
}

// AcquisitionResponse is the body returned by POST /acquisitions.
type AcquisitionResponse struct {
	BBox     aoi.BoundingBox `json:"bbox"`
	Degraded bool            `json:"degraded"`
	Before   ImageResponse   `json:"before"`
	After    ImageResponse   `json:"after"`
}

// Health returns the service health status.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Acquire returns the before and after rasters for an area.
// POST /acquisitions
// The images query parameter set to false omits the base64 PNG payloads.
func (h *Handlers) Acquire(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeArea(w, r)
	if !ok {
		return
	}

	polygon, err := req.polygon()
	if err != nil {
		WriteError(w, ErrCodeInvalidParameter, err.Error())
		return
	}
	before, after, err := h.dates(req)
	if err != nil {
		WriteError(w, ErrCodeInvalidParameter, err.Error())
		return
	}

	includeImages := true
	if v := r.URL.Query().Get("images"); v != "" {
		includeImages, err = strconv.ParseBool(v)
		if err != nil {
			WriteError(w, ErrCodeInvalidParameter, "images must be a boolean")
			return
		}
	}

	res, err := h.acquirer.Acquire(r.Context(), polygon, before, after)
	if err != nil {
		h.writeFailure(w, r, "acquisition failed", err)
		return
	}

	resp := AcquisitionResponse{BBox: res.BBox, Degraded: res.Degraded()}
	if resp.Before, err = imageResponse(res.Before, includeImages); err == nil {
		resp.After, err = imageResponse(res.After, includeImages)
	}
	if err != nil {
		h.writeFailure(w, r, "failed to encode raster", err)
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// RunCycle runs a full monitoring cycle and returns its report.
// POST /cycles
func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeArea(w, r)
	if !ok {
		return
	}

	polygon, err := req.polygon()
	if err != nil {
		WriteError(w, ErrCodeInvalidParameter, err.Error())
		return
	}
	before, err := parseDate(req.Before)
	if err != nil {
		WriteError(w, ErrCodeInvalidParameter, "before: "+err.Error())
		return
	}
	after, err := parseDate(req.After)
	if err != nil {
		WriteError(w, ErrCodeInvalidParameter, "after: "+err.Error())
		return
	}

	rep, err := h.runner.Run(r.Context(), monitor.Request{Polygon: polygon, Before: before, After: after})
	if err != nil {
		h.writeFailure(w, r, "cycle failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, rep)
}

func (h *Handlers) decodeArea(w http.ResponseWriter, r *http.Request) (AreaRequest, bool) {
	var req AreaRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return AreaRequest{}, false
	}
	if err := validateStruct(req); err != nil {
		WriteError(w, ErrCodeInvalidParameter, err.Error())
		return AreaRequest{}, false
	}
	return req, true
}

func (h *Handlers) dates(req AreaRequest) (time.Time, time.Time, error) {
	before, err := parseDate(req.Before)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("before: %w", err)
	}
	after, err := parseDate(req.After)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("after: %w", err)
	}
	return monitor.ResolveDates(h.now(), before, after, h.lookback)
}

// writeFailure maps pipeline errors to HTTP responses.
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, aoi.ErrInvalidGeometry), errors.Is(err, monitor.ErrInvalidDates):
		WriteError(w, ErrCodeInvalidParameter, err.Error())
	case errors.Is(err, changenet.ErrInvocationFailed), errors.Is(err, changenet.ErrChangeMapNotFound):
		h.logger.WarnContext(r.Context(), msg,
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteError(w, ErrCodeUpstreamError, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, ErrCodeUnavailable, "request canceled before completion")
	default:
		h.logger.ErrorContext(r.Context(), msg,
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteError(w, ErrCodeServerError, msg)
	}
}

func (req AreaRequest) polygon() (aoi.Polygon, error) {
	if len(req.Geometry) > 0 {
		return aoi.Decode(req.Geometry)
	}
	p := make(aoi.Polygon, 0, len(req.Polygon))
	for _, pt := range req.Polygon {
		p = append(p, orb.Point{pt[0], pt[1]})
	}
	return p, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

func imageResponse(a acquire.Acquisition, includeImage bool) (ImageResponse, error) {
	resp := ImageResponse{
		ImageInfo: monitor.ImageInfo(a),
		Trace:     a.Trace,
	}
	if a.Scene != nil {
		cloud := a.Scene.CloudCover
		resp.CloudCover = &cloud
	}
	if a.Image == nil {
		return resp, nil
	}
	resp.Width, resp.Height = a.Image.Width(), a.Image.Height()

	if includeImage {
		var buf bytes.Buffer
		if err := a.Image.EncodePNG(&buf); err != nil {
			return ImageResponse{}, err
		}
		resp.PNG = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return resp, nil
}
