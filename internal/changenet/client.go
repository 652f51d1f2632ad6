// Package changenet invokes the hosted Visual ChangeNet model through NVIDIA
// Cloud Functions (NVCF). Images are uploaded as NVCF assets and the inference
// response, a ZIP archive, is unpacked in memory.
package changenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robert-malhotra/changewatch/internal/raster"
)

const (
	// DefaultURL is the hosted Visual ChangeNet endpoint.
	DefaultURL = "https://ai.api.nvidia.com/v1/cv/nvidia/visual-changenet"

	// DefaultAssetsURL is the NVCF asset registration endpoint.
	DefaultAssetsURL = "https://api.nvcf.nvidia.com/v2/nvcf/assets"

	// DefaultTimeout bounds the upload PUT and the inference call.
	DefaultTimeout = 300 * time.Second

	// DefaultAuthorizeTimeout bounds the asset registration call.
	DefaultAuthorizeTimeout = 30 * time.Second

	// jpegQuality matches the quality the model inputs were produced with.
	jpegQuality = 95

	maxResponseBytes = 256 << 20
)

// Config configures a Client.
type Config struct {
	URL              string
	AssetsURL        string
	APIKey           string
	Timeout          time.Duration
	AuthorizeTimeout time.Duration
}

// Client talks to the NVCF asset and inference endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// ChangeMap is the grayscale change probability map returned by the model.
type ChangeMap struct {
	Name  string
	Image *image.Gray
}

// NewClient creates a client. Zero fields of cfg take their defaults.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.AssetsURL == "" {
		cfg.AssetsURL = DefaultAssetsURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AuthorizeTimeout <= 0 {
		cfg.AuthorizeTimeout = DefaultAuthorizeTimeout
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
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

type authorizeRequest struct {
	ContentType string `json:"contentType"`
	Description string `json:"description"`
}

type authorizeResponse struct {
	UploadURL string `json:"uploadUrl"`
	AssetID   string `json:"assetId"`
}

// UploadAsset registers a JPEG asset and uploads its bytes. It returns the asset ID.
func (c *Client) UploadAsset(ctx context.Context, data []byte, description string) (string, error) {
	body, err := json.Marshal(authorizeRequest{ContentType: "image/jpeg", Description: description})
	if err != nil {
		return "", fmt.Errorf("failed to encode asset request: %w", err)
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AuthorizeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.cfg.AssetsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	var auth authorizeResponse
	if err := c.doJSON(req, &auth); err != nil {
		return "", fmt.Errorf("%w: asset registration: %w", ErrInvocationFailed, err)
	}
	if auth.UploadURL == "" || auth.AssetID == "" {
		return "", fmt.Errorf("%w: asset registration returned no upload URL or asset ID", ErrInvocationFailed)
	}

	uctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	put, err := http.NewRequestWithContext(uctx, http.MethodPut, auth.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	put.Header.Set("Content-Type", "image/jpeg")
	put.Header.Set("x-amz-meta-nvcf-asset-description", description)

	resp, err := c.httpClient.Do(put)
	if err != nil {
		return "", fmt.Errorf("%w: asset upload: %w", ErrInvocationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: asset upload returned status %d: %s", ErrInvocationFailed, resp.StatusCode, string(msg))
	}

	c.logger.DebugContext(ctx, "uploaded asset",
		slog.String("asset_id", auth.AssetID),
		slog.String("description", description),
		slog.Int("bytes", len(data)),
	)
	return auth.AssetID, nil
}

// Detect uploads both rasters as JPEG and runs change detection on them.
func (c *Client) Detect(ctx context.Context, before, after *raster.Image) (*ChangeMap, error) {
	refID, err := c.uploadImage(ctx, before, "Reference Image")
	if err != nil {
		return nil, err
	}
	testID, err := c.uploadImage(ctx, after, "Test Image")
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{
		"reference_image": refID,
		"test_image":      testID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference request: %w", err)
	}

	ictx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ictx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	assets := strings.Join([]string{refID, testID}, ",")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("NVCF-INPUT-ASSET-REFERENCES", assets)
	req.Header.Set("NVCF-FUNCTION-ASSET-IDS", assets)
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "change detection request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrInvocationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "change detection returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(msg)),
		)
		return nil, fmt.Errorf("%w: inference returned status %d: %s", ErrInvocationFailed, resp.StatusCode, string(msg))
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read inference response: %w", ErrInvocationFailed, err)
	}

	cm, err := ExtractChangeMap(archive)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "change detection completed",
		slog.String("change_map", cm.Name),
		slog.Duration("duration", time.Since(start)),
	)
	return cm, nil
}

func (c *Client) uploadImage(ctx context.Context, img *raster.Image, description string) (string, error) {
	var buf bytes.Buffer
	if err := img.EncodeJPEG(&buf, jpegQuality); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", strings.ToLower(description), err)
	}
	return c.UploadAsset(ctx, buf.Bytes(), description)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
