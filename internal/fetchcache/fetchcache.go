// Package fetchcache stores finished rasters so identical fetches within a run
// are served once. The cache is advisory: every backend may be dropped or
// flushed at any time without affecting results.
package fetchcache

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/changewatch/internal/raster"
)

// Backend names accepted by New.
const (
	TypeMemory = "memory"
	TypeValkey = "valkey"
	TypeNone   = "none"
)

// Store is a raster.Cache that can be shut down.
type Store interface {
	raster.Cache
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type            string
	Addr            string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// New creates the configured store. TypeNone returns a nil Store.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeMemory:
		return NewMemory(cfg.TTL, cfg.CleanupInterval), nil
	case TypeValkey:
		v, err := NewValkey(cfg.Addr, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Valkey)(nil)
)
