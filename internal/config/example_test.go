package config_test

import (
	"fmt"
	"log"
	"os"

	"github.com/robert-malhotra/changewatch/internal/config"
)

func ExampleLoad() {
	os.Setenv("ACQ_TOLERANCE_DAYS", "10")
	defer os.Unsetenv("ACQ_TOLERANCE_DAYS")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Server: %s\n", cfg.Server.Address())
	fmt.Printf("Catalog: %s %v\n", cfg.Catalog.Type, cfg.STAC.Collections)
	fmt.Printf("Image size: %d\n", cfg.Acquisition.ImageSize)
	fmt.Printf("Tolerance: %d days\n", cfg.Acquire().ToleranceDays)

	// Output:
	// Server: 0.0.0.0:8080
	// Catalog: stac [sentinel-2-l2a]
	// Image size: 416
	// Tolerance: 10 days
}
