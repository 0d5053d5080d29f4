// Package cache stores stage outputs under deterministic keys with per-category TTLs
// and lineage-aware invalidation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/metrics"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// DefaultTTLs are used for categories the caller leaves unset.
var DefaultTTLs = map[models.CacheCategory]time.Duration{
	models.CacheCategoryCollection:  time.Hour,
	models.CacheCategoryPatterns:    6 * time.Hour,
	models.CacheCategoryMappings:    24 * time.Hour,
	models.CacheCategorySuggestions: 168 * time.Hour,
}

// Options configures a Cache.
type Options struct {
	Enabled bool
	Backend string
	TTL     map[models.CacheCategory]time.Duration
	Metrics *metrics.Metrics
	// Now overrides the clock; tests use it to step past TTLs.
	Now func() time.Time
}

// CategoryStats counts cache activity for one category since the Cache was created.
type CategoryStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Writes        int64 `json:"writes"`
	Corruptions   int64 `json:"corruptions"`
	Invalidations int64 `json:"invalidations"`
}

type counters struct {
	hits, misses, writes, corruptions, invalidations atomic.Int64
}

func (c *counters) snapshot() CategoryStats {
	return CategoryStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Writes:        c.writes.Load(),
		Corruptions:   c.corruptions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// CategoryStatus is the per-category part of Status.
type CategoryStatus struct {
	Category models.CacheCategory `json:"category"`
	TTL      string               `json:"ttl"`
	Entries  int                  `json:"entries"`
	CategoryStats
}

// Status is the operator view of the cache.
type Status struct {
	Enabled    bool             `json:"enabled"`
	Backend    string           `json:"backend"`
	Categories []CategoryStatus `json:"categories"`
}

// Cache wraps a Store with envelopes, expiry, cascade invalidation and statistics.
type Cache struct {
	store   Store
	backend string
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	enabled atomic.Bool

	mu  sync.RWMutex
	ttl map[models.CacheCategory]time.Duration

	stats map[models.CacheCategory]*counters
	group singleflight.Group
}

// New wraps store. Categories missing from opts.TTL get DefaultTTLs.
func New(store Store, opts Options, logger *zap.Logger) *Cache {
	c := &Cache{
		store:   store,
		backend: opts.Backend,
		logger:  logger.Named("cache"),
		metrics: opts.Metrics,
		now:     opts.Now,
		ttl:     make(map[models.CacheCategory]time.Duration),
		stats:   make(map[models.CacheCategory]*counters),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.backend == "" {
		c.backend = BackendMemory
	}
	for _, cat := range models.AllCacheCategories() {
		c.ttl[cat] = DefaultTTLs[cat]
		if d, ok := opts.TTL[cat]; ok && d > 0 {
			c.ttl[cat] = d
		}
		c.stats[cat] = &counters{}
	}
	c.enabled.Store(opts.Enabled)
	return c
}

// NewMemory returns an enabled cache over a fresh MemoryStore.
func NewMemory(logger *zap.Logger) *Cache {
	return New(NewMemoryStore(), Options{Enabled: true, Backend: BackendMemory}, logger)
}

// ============================================================================
// Reads and writes
// ============================================================================

// Get returns the payload stored under key. Expired and corrupt entries are deleted
// and reported as misses; store errors are logged and also reported as misses.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool) {
	cat := key.Category
	if !c.Enabled() {
		c.metrics.CacheRequest(string(cat), metrics.ResultBypass)
		return nil, false
	}

	data, ok, err := c.store.Get(ctx, key.String())
	if err != nil {
		c.logger.Warn("Cache read failed, treating as miss", zap.String("key", key.String()), zap.Error(err))
		c.miss(cat, metrics.ResultMiss)
		return nil, false
	}
	if !ok {
		c.miss(cat, metrics.ResultMiss)
		return nil, false
	}

	entry, err := openEntry(key.String(), data)
	if err != nil {
		c.discardCorrupt(ctx, key, err)
		return nil, false
	}
	if c.expired(entry) {
		if _, err := c.store.Delete(ctx, key.String()); err != nil {
			c.logger.Warn("Failed to delete expired cache entry", zap.String("key", key.String()), zap.Error(err))
		}
		c.miss(cat, metrics.ResultExpired)
		return nil, false
	}

	c.stats[cat].hits.Add(1)
	c.metrics.CacheRequest(string(cat), metrics.ResultHit)
	return entry.Payload, true
}

// Put stores payload under key, replacing any previous value. A positive ttl is
// fixed for this entry; ttl <= 0 follows the category TTL, including later
// SetTTL changes. A disabled cache ignores writes.
func (c *Cache) Put(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	explicit := ttl > 0
	if !explicit {
		ttl = c.TTL(key.Category)
	}
	data, err := sealEntry(key, payload, c.now(), ttl, explicit)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key.String(), data, ttl); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	c.stats[key.Category].writes.Add(1)
	c.metrics.CacheWrite(string(key.Category))
	return nil
}

func (c *Cache) miss(cat models.CacheCategory, result string) {
	c.stats[cat].misses.Add(1)
	c.metrics.CacheRequest(string(cat), result)
}

func (c *Cache) discardCorrupt(ctx context.Context, key Key, cause error) {
	c.logger.Warn("Discarding corrupt cache entry", zap.String("key", key.String()), zap.Error(cause))
	if _, err := c.store.Delete(ctx, key.String()); err != nil {
		c.logger.Warn("Failed to delete corrupt cache entry", zap.String("key", key.String()), zap.Error(err))
	}
	c.stats[key.Category].corruptions.Add(1)
	c.miss(key.Category, metrics.ResultCorrupt)
}

// expired compares the entry age with its own TTL when the writer chose one, and
// with the category's current TTL otherwise, so SetTTL applies to entries already stored.
func (c *Cache) expired(entry *models.CacheEntry) bool {
	if entry.ExplicitTTL {
		return entry.Expired(c.now())
	}
	return c.now().Sub(entry.CreatedAt) > c.TTL(entry.Category)
}

// ============================================================================
// Invalidation
// ============================================================================

// Invalidate deletes key and every downstream entry sharing its lineage root.
// It returns the number of entries removed.
func (c *Cache) Invalidate(ctx context.Context, key Key) (int, error) {
	n, err := c.delete(ctx, key.Category, key.String())
	if err != nil {
		return n, err
	}
	cascaded, err := c.cascade(ctx, key.Category, []string{key.Root})
	return n + cascaded, err
}

// InvalidatePrefix deletes the entries of category whose root starts with prefix,
// then cascades to their downstream entries.
func (c *Cache) InvalidatePrefix(ctx context.Context, category models.CacheCategory, prefix string) (int, error) {
	keys, err := c.store.Keys(ctx, categoryPrefix(category)+prefix)
	if err != nil {
		return 0, err
	}
	roots := make(map[string]bool)
	for _, k := range keys {
		if parsed, err := ParseKey(k); err == nil {
			roots[parsed.Root] = true
		}
	}
	n, err := c.delete(ctx, category, keys...)
	if err != nil {
		return n, err
	}
	rootList := make([]string, 0, len(roots))
	for r := range roots {
		rootList = append(rootList, r)
	}
	cascaded, err := c.cascade(ctx, category, rootList)
	return n + cascaded, err
}

// InvalidateCategory clears the category and every category downstream of it.
func (c *Cache) InvalidateCategory(ctx context.Context, category models.CacheCategory) (int, error) {
	total := 0
	for _, cat := range append([]models.CacheCategory{category}, category.Downstream()...) {
		keys, err := c.store.Keys(ctx, categoryPrefix(cat))
		if err != nil {
			return total, err
		}
		n, err := c.delete(ctx, cat, keys...)
		total += n
		if err != nil {
			return total, err
		}
	}
	c.logger.Info("Invalidated cache category",
		zap.String("category", string(category)),
		zap.Int("entries", total))
	return total, nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return c.InvalidateCategory(ctx, models.CacheCategoryCollection)
}

func (c *Cache) cascade(ctx context.Context, from models.CacheCategory, roots []string) (int, error) {
	total := 0
	for _, cat := range from.Downstream() {
		for _, root := range roots {
			keys, err := c.store.Keys(ctx, rootPrefix(cat, root))
			if err != nil {
				return total, err
			}
			n, err := c.delete(ctx, cat, keys...)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Cache) delete(ctx context.Context, cat models.CacheCategory, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate %s: %w", cat, err)
	}
	c.stats[cat].invalidations.Add(int64(n))
	c.metrics.CacheInvalidations(string(cat), n)
	return n, nil
}

// Sweep deletes every expired or corrupt entry and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for _, cat := range models.AllCacheCategories() {
		keys, err := c.store.Keys(ctx, categoryPrefix(cat))
		if err != nil {
			return removed, err
		}
		var stale []string
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			data, ok, err := c.store.Get(ctx, k)
			if err != nil || !ok {
				continue
			}
			entry, err := openEntry(k, data)
			if err != nil || c.expired(entry) {
				stale = append(stale, k)
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := c.store.Delete(ctx, stale...)
		if err != nil {
			return removed, fmt.Errorf("cache sweep %s: %w", cat, err)
		}
		removed += n
	}
	if removed > 0 {
		c.logger.Info("Swept stale cache entries", zap.Int("removed", removed))
	}
	return removed, nil
}

// ============================================================================
// Control surface
// ============================================================================

func (c *Cache) Enable() {
	c.enabled.Store(true)
	c.logger.Info("Cache enabled")
}

func (c *Cache) Disable() {
	c.enabled.Store(false)
	c.logger.Info("Cache disabled")
}

func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// Backend returns the configured store name.
func (c *Cache) Backend() string {
	return c.backend
}

// SetTTL changes a category's time-to-live. It affects existing entries too.
func (c *Cache) SetTTL(category models.CacheCategory, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("ttl for %s must be positive, got %s: %w", category, d, apperrors.ErrInvalidArgument)
	}
	if _, ok := c.stats[category]; !ok {
		return fmt.Errorf("unknown cache category %q: %w", category, apperrors.ErrInvalidArgument)
	}
	c.mu.Lock()
	c.ttl[category] = d
	c.mu.Unlock()
	c.logger.Info("Cache TTL updated", zap.String("category", string(category)), zap.Duration("ttl", d))
	return nil
}

func (c *Cache) TTL(category models.CacheCategory) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl[category]
}

// Stats returns the activity counters of every category.
func (c *Cache) Stats() map[models.CacheCategory]CategoryStats {
	out := make(map[models.CacheCategory]CategoryStats, len(c.stats))
	for cat, s := range c.stats {
		out[cat] = s.snapshot()
	}
	return out
}

// Status reports counters plus the number of stored entries per category.
func (c *Cache) Status(ctx context.Context) (*Status, error) {
	status := &Status{Enabled: c.Enabled(), Backend: c.backend}
	for _, cat := range models.AllCacheCategories() {
		keys, err := c.store.Keys(ctx, categoryPrefix(cat))
		if err != nil {
			return nil, err
		}
		status.Categories = append(status.Categories, CategoryStatus{
			Category:      cat,
			TTL:           c.TTL(cat).String(),
			Entries:       len(keys),
			CategoryStats: c.stats[cat].snapshot(),
		})
	}
	return status, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
