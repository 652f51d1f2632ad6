package fetchcache

import (
	"context"
	"sync"
	"time"

	"github.com/robert-malhotra/changewatch/internal/raster"
)

const (
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

type entry struct {
	img       *raster.Image
	expiresAt time.Time
}

// Memory is an in-process Store with TTL expiry. It suits single-instance
// deployments; use Valkey to share rasters between instances.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]entry
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a memory store and starts its cleanup goroutine.
func NewMemory(ttl, cleanupInterval time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	m := &Memory{
		entries:  make(map[string]entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go m.cleanupLoop(cleanupInterval)

	return m
}

// Get returns the raster stored under key, if present and not expired.
func (m *Memory) Get(_ context.Context, key string) (*raster.Image, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.img, true, nil
}

// PutIfAbsent stores img unless a live entry exists. It reports whether img
// was stored.
func (m *Memory) PutIfAbsent(_ context.Context, key string, img *raster.Image) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok && !now.After(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = entry{img: img, expiresAt: now.Add(m.ttl)}
	return true, nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// Stats returns the number of entries and the age of the oldest one.
func (m *Memory) Stats() (count int, oldestAge time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count = len(m.entries)
	if count == 0 {
		return 0, 0
	}

	var oldest time.Time
	for _, e := range m.entries {
		created := e.expiresAt.Add(-m.ttl)
		if oldest.IsZero() || created.Before(oldest) {
			oldest = created
		}
	}

	return count, time.Since(oldest)
}
