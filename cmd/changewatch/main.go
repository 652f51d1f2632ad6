// changewatch runs one monitoring cycle for the configured area of interest and
// writes the rasters and the verdict to the output directory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/config"
	"github.com/robert-malhotra/changewatch/internal/monitor"
	"github.com/robert-malhotra/changewatch/internal/observability"
	"github.com/robert-malhotra/changewatch/internal/raster"
	"github.com/robert-malhotra/changewatch/pkg/server"
)

// jpegQuality for the rasters written to disk.
const jpegQuality = 95

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracer(), logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	polygon, err := aoi.LoadFile(cfg.Acquisition.AOIPath)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer srv.Close()

	logger.Info("running monitoring cycle",
		"aoi", cfg.Acquisition.AOIPath,
		"catalog", cfg.Catalog.Type,
		"max_cloud_cover", cfg.Acquisition.MaxCloudCover,
		"image_size", cfg.Acquisition.ImageSize,
		"earthdata", cfg.Credentials().String(),
	)

	rep, err := srv.Runner().Run(ctx, monitor.Request{Polygon: polygon})
	if err != nil {
		return err
	}

	if err := writeOutputs(cfg.Acquisition.OutputDir, rep); err != nil {
		return err
	}

	verdict := "NO CHANGE DETECTED"
	if rep.Analysis.Changed {
		verdict = "CHANGE DETECTED"
	}
	logger.Info(verdict,
		"run_id", rep.RunID,
		"changed_pixels", rep.Analysis.ChangedPixels,
		"ratio", fmt.Sprintf("%.4f", rep.Analysis.Ratio),
		"degraded", rep.Degraded,
		"before_source", rep.Before.Source,
		"after_source", rep.After.Source,
		"date", time.Now().Format(time.DateTime),
	)
	return nil
}

func writeOutputs(dir string, rep *monitor.CycleReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	images := map[string]*raster.Image{
		"before.jpg": rep.Acquisition.Before.Image,
		"after.jpg":  rep.Acquisition.After.Image,
	}
	for name, img := range images {
		if err := writeJPEG(filepath.Join(dir, name), img); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeJPEG(path string, img *raster.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := img.EncodeJPEG(f, jpegQuality); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
