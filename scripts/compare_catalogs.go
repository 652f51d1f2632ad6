// Script to compare STAC API and CMR search results for the configured area of interest
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robert-malhotra/changewatch/internal/aoi"
	"github.com/robert-malhotra/changewatch/internal/catalog"
	"github.com/robert-malhotra/changewatch/internal/config"
	"github.com/robert-malhotra/changewatch/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	polygon, err := aoi.LoadFile(cfg.Acquisition.AOIPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	bbox, err := aoi.Parse(polygon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	window := catalog.NewSearchWindow(time.Now().UTC(), cfg.Acquisition.ToleranceDays)
	query := catalog.Query{
		BBox:          bbox,
		Window:        window,
		MaxCloudCover: cfg.Acquisition.MaxCloudCover,
	}

	fmt.Println("=== Catalog Comparison ===")
	fmt.Printf("Window: %s\n", window.Interval())
	fmt.Printf("Bounding box: %s\n", bbox)
	fmt.Printf("Max cloud cover: %.0f%%\n\n", cfg.Acquisition.MaxCloudCover)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	counts := make(map[string]int)
	for _, backend := range []string{"stac", "cmr"} {
		cfg.Catalog.Type = backend
		query.Limit = cfg.STAC.Limit
		if backend == "cmr" {
			query.Limit = cfg.CMR.PageSize
		}

		searcher, err := server.NewSearcher(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", backend, err)
			continue
		}

		fmt.Printf("Querying %s...\n", backend)
		outcome := catalog.Search(context.Background(), searcher, query, catalog.Options{
			Timeout: cfg.Catalog.Timeout,
			Ranking: cfg.Ranking(),
			Logger:  logger,
		})
		if outcome.Err != nil {
			fmt.Fprintf(os.Stderr, "%s query failed: %v\n\n", backend, outcome.Err)
			continue
		}

		counts[backend] = len(outcome.Candidates)
		fmt.Printf("%s: %d candidates (%d discarded) in %s\n", backend, len(outcome.Candidates), outcome.Discarded, outcome.Duration.Round(time.Millisecond))
		for i, c := range outcome.Candidates {
			fmt.Printf("  %2d. %s  %s  cloud=%.1f%%\n", i+1, c.ID, c.Acquired.Format(time.DateOnly), c.CloudCover)
		}
		fmt.Println()
	}

	fmt.Println("=== Comparison ===")
	fmt.Printf("STAC: %d scenes\n", counts["stac"])
	fmt.Printf("CMR:  %d scenes\n", counts["cmr"])
	if counts["stac"] == 0 && counts["cmr"] == 0 {
		fmt.Println("\nNo real imagery in the window; a cycle would use synthetic fallback images.")
	}
}
