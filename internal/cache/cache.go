// Package cache persists face embeddings per gallery file, keyed by path and
// invalidated by the file fingerprint.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/fingerprint"
	"github.com/kozaktomas/face-search/internal/metrics"
)

// Entry is a cached extraction result for one file.
type Entry struct {
	Path        string
	Fingerprint string
	Embeddings  [][]float32
	Label       string
	CachedAt    time.Time
}

// Backend is a durable store of entries.
type Backend interface {
	// Get returns the entry stored for path, or nil if there is none.
	Get(ctx context.Context, path string) (*Entry, error)
	// Put inserts or replaces the entry for e.Path.
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, paths []string) error
	Paths(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (entries int, faces int, err error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarizes the cache contents and lookup counters.
type Stats struct {
	Entries int   `json:"entries"`
	Faces   int   `json:"faces"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	HotHits int64 `json:"hot_hits"`
}

// Cache fronts a durable backend with an in-memory hot tier. It is safe for
// concurrent use.
type Cache struct {
	backend Backend
	hot     *ristretto.Cache
	logger  *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	hotHits atomic.Int64
}

// New creates a cache on top of backend. A hotMaxCost of zero disables the
// hot tier.
func New(backend Backend, hotMaxCost int64) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	c := &Cache{
		backend: backend,
		logger:  slog.Default().With("component", "cache"),
	}
	if hotMaxCost > 0 {
		hot, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: constants.DefaultHotCacheCounters,
			MaxCost:     hotMaxCost,
			BufferItems: constants.DefaultHotCacheBufferItems,
		})
		if err != nil {
			return nil, fmt.Errorf("create hot cache: %w", err)
		}
		c.hot = hot
	}
	return c, nil
}

// Lookup returns the cached entry for path if its fingerprint still matches
// the file on disk. Any failure is reported as a miss.
func (c *Cache) Lookup(ctx context.Context, path string) (Entry, bool) {
	fp, err := fingerprint.Compute(path)
	if err != nil {
		c.logger.Debug("fingerprint failed", "path", path, "error", err)
		c.miss()
		return Entry{}, false
	}
	live := fp.String()
	key := hotKey(path, live)

	if c.hot != nil {
		if v, ok := c.hot.Get(key); ok {
			if e, ok := v.(*Entry); ok {
				c.hits.Add(1)
				c.hotHits.Add(1)
				metrics.CacheLookupsTotal.WithLabelValues("hot", "hit").Inc()
				return *e, true
			}
		}
	}

	e, err := c.backend.Get(ctx, path)
	if err != nil {
		c.logger.Warn("cache lookup failed", "path", path, "error", err)
		c.miss()
		return Entry{}, false
	}
	if e == nil || e.Fingerprint != live {
		c.miss()
		return Entry{}, false
	}

	c.hits.Add(1)
	metrics.CacheLookupsTotal.WithLabelValues("durable", "hit").Inc()
	c.remember(key, e)
	return *e, true
}

// Store records the embeddings extracted from path under its current
// fingerprint, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, path string, embeddings [][]float32, label string) error {
	fp, err := fingerprint.Compute(path)
	if err != nil {
		metrics.CacheStoreErrorsTotal.Inc()
		return fmt.Errorf("fingerprint %s: %w", path, err)
	}
	e := &Entry{
		Path:        path,
		Fingerprint: fp.String(),
		Embeddings:  embeddings,
		Label:       label,
		CachedAt:    time.Now(),
	}
	if err := c.backend.Put(ctx, e); err != nil {
		metrics.CacheStoreErrorsTotal.Inc()
		return fmt.Errorf("store %s: %w", path, err)
	}
	c.remember(hotKey(path, e.Fingerprint), e)
	return nil
}

// Stats returns entry counts from the backend and the lookup counters of
// this process.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, faces, err := c.backend.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count entries: %w", err)
	}
	return Stats{
		Entries: entries,
		Faces:   faces,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		HotHits: c.hotHits.Load(),
	}, nil
}

// Prune removes every entry whose path keep rejects and returns how many
// were removed.
func (c *Cache) Prune(ctx context.Context, keep func(path string) bool) (int, error) {
	paths, err := c.backend.Paths(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	var stale []string
	for _, p := range paths {
		if !keep(p) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.backend.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale entries: %w", err)
	}
	c.clearHot()
	return len(stale), nil
}

// Clear removes all entries.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	c.clearHot()
	return nil
}

// Close releases the hot tier and the backend.
func (c *Cache) Close() error {
	if c.hot != nil {
		c.hot.Close()
	}
	return c.backend.Close()
}

func (c *Cache) miss() {
	c.misses.Add(1)
	metrics.CacheLookupsTotal.WithLabelValues("durable", "miss").Inc()
}

func (c *Cache) remember(key string, e *Entry) {
	if c.hot == nil {
		return
	}
	c.hot.Set(key, e, entryCost(e))
}

func (c *Cache) clearHot() {
	if c.hot != nil {
		c.hot.Clear()
	}
}

func hotKey(path, fp string) string {
	return path + "|" + fp
}

func entryCost(e *Entry) int64 {
	cost := int64(len(e.Path) + len(e.Label) + len(e.Fingerprint) + 64)
	for _, v := range e.Embeddings {
		cost += int64(len(v) * 4)
	}
	return cost
}
