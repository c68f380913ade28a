package nutrient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ai-diet-planner/internal/kvstore"
)

const (
	// KeyPrefix namespaces cached lookups in the shared store.
	KeyPrefix = "nutrient_cache_"
	// DefaultTTL is how long a cached lookup stays valid.
	DefaultTTL = 24 * time.Hour

	maxConcurrentLookups = 10
	// sharedLookupTimeout bounds an upstream call that several callers wait on.
	sharedLookupTimeout = 30 * time.Second
)

// ErrEmptyQuery is returned for blank food descriptions.
var ErrEmptyQuery = errors.New("food description is empty")

// CacheObserver is told whether a lookup was served from the cache.
type CacheObserver interface {
	CacheResult(hit bool)
}

// NormalizeKey folds case and whitespace so that equivalent descriptions
// share one cache entry.
func NormalizeKey(food string) string {
	return strings.Join(strings.Fields(strings.ToLower(food)), " ")
}

// CacheKey returns the store key for a food description.
func CacheKey(food string) string {
	return KeyPrefix + NormalizeKey(food)
}

// Cache is a cache-aside wrapper around a Searcher. Failed lookups are
// never cached and never replaced by defaults.
type Cache struct {
	kv       kvstore.Store
	source   Searcher
	ttl      time.Duration
	logger   *slog.Logger
	observer CacheObserver
	group    singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver reports hits and misses.
func WithObserver(obs CacheObserver) CacheOption {
	return func(c *Cache) {
		c.observer = obs
	}
}

func NewCache(kv kvstore.Store, source Searcher, opts ...CacheOption) *Cache {
	c := &Cache{
		kv:     kv,
		source: source,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the macros for food, from the cache when a fresh entry
// exists and from the source otherwise.
func (c *Cache) Lookup(ctx context.Context, food string) (Macros, error) {
	norm := NormalizeKey(food)
	if norm == "" {
		return Macros{}, ErrEmptyQuery
	}
	key := KeyPrefix + norm
	logger := c.logger.With("food", norm)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var m Macros
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			c.observe(true)
			return m, nil
		}
		logger.Warn("corrupt nutrient cache entry, refetching")
	case !errors.Is(err, kvstore.ErrNotFound):
		return Macros{}, fmt.Errorf("failed to read nutrient cache: %w", err)
	}
	c.observe(false)

	// Concurrent misses for the same food share one upstream call, detached
	// from the first caller's ctx. Each caller stops waiting when its own ctx
	// ends.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		m, err := c.source.Search(fetchCtx, norm)
		if err != nil {
			return Macros{}, err
		}
		if err := kvstore.PutJSON(fetchCtx, c.kv, key, m, c.ttl); err != nil {
			logger.Warn("failed to cache nutrient lookup", "error", err)
		}
		return m, nil
	})
	var v interface{}
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return Macros{}, ctx.Err()
	}
	if err != nil {
		return Macros{}, fmt.Errorf("nutrient lookup for %q failed: %w", norm, err)
	}
	return v.(Macros), nil
}

// LookupMany resolves several foods concurrently. The result is keyed by
// the descriptions as given. Any failure fails the whole batch.
func (c *Cache) LookupMany(ctx context.Context, foods []string) (map[string]Macros, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	var mu sync.Mutex
	results := make(map[string]Macros, len(foods))
	seen := make(map[string]bool, len(foods))
	for _, food := range foods {
		if seen[food] {
			continue
		}
		seen[food] = true
		g.Go(func() error {
			m, err := c.Lookup(gctx, food)
			if err != nil {
				return err
			}
			mu.Lock()
			results[food] = m
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate drops the cached entry for food.
func (c *Cache) Invalidate(ctx context.Context, food string) error {
	return c.kv.Delete(ctx, CacheKey(food))
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.CacheResult(hit)
	}
}
