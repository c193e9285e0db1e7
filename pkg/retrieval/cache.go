package retrieval

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// cache namespaces. Each gets an epoch counter so a namespace can be
// invalidated without enumerating ristretto keys.
const (
	nsShortTerm = "stm"
	nsLongTerm  = "ltm"
	nsContext   = "context"
)

const queryKeyLimit = 100

// Cache is a bounded TTL cache for ranked retrieval results, keyed by
// (namespace, query, intent). Entries expire on their TTL; writes do not
// invalidate reads, so a hit may be up to one TTL stale.
type Cache struct {
	rc  *ristretto.Cache
	ttl time.Duration

	epochs map[string]*atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a point-in-time hit/miss snapshot.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// NewCache builds a cache bounded to maxEntries with a shared per-entry TTL.
func NewCache(maxEntries int, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("building cache: %w", err)
	}

	c := &Cache{
		rc:  rc,
		ttl: ttl,
		epochs: map[string]*atomic.Uint64{
			nsShortTerm: {},
			nsLongTerm:  {},
			nsContext:   {},
		},
	}
	return c, nil
}

func (c *Cache) key(ns, query, intent string) string {
	if len(query) > queryKeyLimit {
		query = query[:queryKeyLimit]
	}
	return fmt.Sprintf("%s:%d:%s:%s", ns, c.epochs[ns].Load(), query, intent)
}

func (c *Cache) get(ns, query, intent string) (any, bool) {
	v, ok := c.rc.Get(c.key(ns, query, intent))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache) set(ns, query, intent string, value any) {
	c.rc.SetWithTTL(c.key(ns, query, intent), value, 1, c.ttl)
}

// GetShortTerm returns cached short-term results for (query, intent).
func (c *Cache) GetShortTerm(query, intent string) ([]*ScoredShortTerm, bool) {
	v, ok := c.get(nsShortTerm, query, intent)
	if !ok {
		return nil, false
	}
	out, ok := v.([]*ScoredShortTerm)
	return out, ok
}

// SetShortTerm caches short-term results for (query, intent).
func (c *Cache) SetShortTerm(query, intent string, results []*ScoredShortTerm) {
	c.set(nsShortTerm, query, intent, results)
}

// GetLongTerm returns cached long-term results for (query, intent).
func (c *Cache) GetLongTerm(query, intent string) ([]*ScoredLongTerm, bool) {
	v, ok := c.get(nsLongTerm, query, intent)
	if !ok {
		return nil, false
	}
	out, ok := v.([]*ScoredLongTerm)
	return out, ok
}

// SetLongTerm caches long-term results for (query, intent).
func (c *Cache) SetLongTerm(query, intent string, results []*ScoredLongTerm) {
	c.set(nsLongTerm, query, intent, results)
}

// GetContext returns a cached combined context for (query, intent).
func (c *Cache) GetContext(query, intent string) (*Context, bool) {
	v, ok := c.get(nsContext, query, intent)
	if !ok {
		return nil, false
	}
	out, ok := v.(*Context)
	return out, ok
}

// SetContext caches a combined context for (query, intent).
func (c *Cache) SetContext(query, intent string, context *Context) {
	c.set(nsContext, query, intent, context)
}

// InvalidateShortTerm drops all cached short-term and context results.
func (c *Cache) InvalidateShortTerm() {
	c.epochs[nsShortTerm].Add(1)
	c.epochs[nsContext].Add(1)
}

// InvalidateLongTerm drops all cached long-term and context results.
func (c *Cache) InvalidateLongTerm() {
	c.epochs[nsLongTerm].Add(1)
	c.epochs[nsContext].Add(1)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.rc.Clear()
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Wait blocks until buffered writes are applied. Intended for tests.
func (c *Cache) Wait() {
	c.rc.Wait()
}

// Close releases the cache's resources.
func (c *Cache) Close() {
	c.rc.Close()
}
