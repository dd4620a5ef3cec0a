package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// FetchFunc produces a fresh value for one key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Result is a value served by the cache.
type Result[T any] struct {
	Value     T
	FetchedAt time.Time

	// Stale is set when the value outlived its TTL and a refresh failed.
	Stale bool
}

// Mirror persists entries so a cold process can still serve stale data.
type Mirror interface {
	SaveCacheEntry(ctx context.Context, cache, key string, data []byte, fetchedAt time.Time) error
	LoadCacheEntry(ctx context.Context, cache, key string) ([]byte, time.Time, bool, error)
	DeleteCacheEntry(ctx context.Context, cache, key string) error
	FlushCache(ctx context.Context, cache string) error
}

// Recorder receives hit and miss events, typically for metrics export.
type Recorder interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

type options struct {
	mirror   Mirror
	recorder Recorder
	logger   logger.Logger
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithMirror backs the cache with a durable mirror.
func WithMirror(m Mirror) Option { return func(o *options) { o.mirror = m } }

// WithRecorder reports hits and misses to r.
func WithRecorder(r Recorder) Option { return func(o *options) { o.recorder = r } }

// WithLogger sets the logger used for fallback and refresh failures.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

type entry[T any] struct {
	value     T
	hasValue  bool
	fetchedAt time.Time
	ttl       time.Duration
	fetch     FetchFunc[T]

	refreshing     bool
	refreshStarted time.Time
}

// inFlight reports whether a refresh started less than one TTL ago is still
// running. Older refreshes are treated as abandoned.
func (e *entry[T]) inFlight(now time.Time) bool {
	return e.refreshing && now.Sub(e.refreshStarted) < e.ttl
}

// Cache is a TTL read-through cache for one class of data.
type Cache[T any] struct {
	name string
	ttl  time.Duration
	opts options

	mu      sync.Mutex
	entries map[string]*entry[T]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache named name whose entries live for ttl unless a
// caller asks for another TTL.
func New[T any](name string, ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{logger: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		name:    name,
		ttl:     ttl,
		opts:    o,
		entries: make(map[string]*entry[T]),
	}
}

// Name returns the cache name.
func (c *Cache[T]) Name() string { return c.name }

// TTL returns the default entry lifetime.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// GetOrFetch returns the entry for key, calling fetch when it is missing or
// expired. A ttl of zero or less uses the cache default.
//
// A read never waits for a fetch it did not start: when a refresh is already
// running and a previous value exists, that value is returned as stale. When
// fetch fails the previous value is served as stale; the error surfaces,
// wrapping domain.ErrUnavailable, only when no value has ever been seen.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (Result[T], error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.opts.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.hasValue && now.Sub(e.fetchedAt) < e.ttl {
		res := Result[T]{Value: e.value, FetchedAt: e.fetchedAt}
		c.mu.Unlock()
		c.hit()
		return res, nil
	}
	c.miss()

	if !ok {
		e = &entry[T]{}
		c.entries[key] = e
	}
	e.ttl = ttl
	e.fetch = fetch

	if e.hasValue && e.inFlight(now) {
		res := Result[T]{Value: e.value, FetchedAt: e.fetchedAt, Stale: true}
		c.mu.Unlock()
		return res, nil
	}

	owner := !e.inFlight(now)
	if owner {
		e.refreshing = true
		e.refreshStarted = now
	}
	c.mu.Unlock()

	v, err := fetch(ctx)

	c.mu.Lock()
	if owner {
		e.refreshing = false
	}
	if err == nil {
		fetchedAt := c.opts.now()
		c.store(key, e, v, fetchedAt)
		c.mu.Unlock()
		c.mirrorSave(ctx, key, v, fetchedAt)
		return Result[T]{Value: v, FetchedAt: fetchedAt}, nil
	}
	if e.hasValue {
		res := Result[T]{Value: e.value, FetchedAt: e.fetchedAt, Stale: true}
		c.mu.Unlock()
		c.opts.logger.Warn("fetch failed, serving stale value",
			logger.String("cache", c.name),
			logger.String("key", key),
			logger.Error(err))
		return res, nil
	}
	c.mu.Unlock()

	if res, ok := c.mirrorLoad(ctx, key, e); ok {
		c.opts.logger.Warn("fetch failed, serving mirrored value",
			logger.String("cache", c.name),
			logger.String("key", key),
			logger.Error(err))
		return res, nil
	}

	var zero T
	return Result[T]{Value: zero}, fmt.Errorf("%w: %s/%s: %w", domain.ErrUnavailable, c.name, key, err)
}

// store writes a fetched value if e is still the live entry for key. An
// entry cleared while its fetch was running is not resurrected.
func (c *Cache[T]) store(key string, e *entry[T], v T, at time.Time) {
	if c.entries[key] != e {
		return
	}
	e.value = v
	e.hasValue = true
	e.fetchedAt = at
}

// WarmDue refreshes every entry whose age lies in [threshold*ttl, ttl), or
// every entry with a fetch function when force is set. Each refresh is
// handed to spawn so a slow fetch never holds up the others. It returns
// the number of refreshes started.
func (c *Cache[T]) WarmDue(ctx context.Context, threshold float64, force bool, spawn func(func())) int {
	now := c.opts.now()

	type job struct {
		key string
		e   *entry[T]
	}
	var jobs []job

	c.mu.Lock()
	for key, e := range c.entries {
		if e.fetch == nil || e.inFlight(now) {
			continue
		}
		age := now.Sub(e.fetchedAt)
		due := force || (e.hasValue && age >= time.Duration(threshold*float64(e.ttl)) && age < e.ttl)
		if !due {
			continue
		}
		e.refreshing = true
		e.refreshStarted = now
		jobs = append(jobs, job{key: key, e: e})
	}
	c.mu.Unlock()

	for _, j := range jobs {
		spawn(func() { c.refresh(ctx, j.key, j.e) })
	}
	return len(jobs)
}

func (c *Cache[T]) refresh(ctx context.Context, key string, e *entry[T]) {
	c.mu.Lock()
	fetch, ttl := e.fetch, e.ttl
	c.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	v, err := fetch(fctx)

	c.mu.Lock()
	e.refreshing = false
	if err != nil {
		c.mu.Unlock()
		c.opts.logger.Warn("cache warm failed",
			logger.String("cache", c.name),
			logger.String("key", key),
			logger.Error(err))
		return
	}
	at := c.opts.now()
	c.store(key, e, v, at)
	c.mu.Unlock()
	c.mirrorSave(ctx, key, v, at)
}

// Invalidate drops one key, including its mirrored copy.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.opts.mirror != nil {
		if err := c.opts.mirror.DeleteCacheEntry(ctx, c.name, key); err != nil {
			c.opts.logger.Warn("failed to drop mirrored entry",
				logger.String("cache", c.name),
				logger.String("key", key),
				logger.Error(err))
		}
	}
}

// Clear drops every entry and resets the counters.
func (c *Cache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*entry[T])
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)

	if c.opts.mirror != nil {
		if err := c.opts.mirror.FlushCache(ctx, c.name); err != nil {
			return fmt.Errorf("flush %s mirror: %w", c.name, err)
		}
	}
	return nil
}

// Stats reports the counters and per-key ages of the cache.
func (c *Cache[T]) Stats() Stats {
	now := c.opts.now()
	st := Stats{
		Name:       c.name,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = domain.Round2(float64(st.Hits) / float64(total) * 100)
	}

	c.mu.Lock()
	st.Keys = make([]KeyStats, 0, len(c.entries))
	for key, e := range c.entries {
		ks := KeyStats{Key: key, TTLSeconds: e.ttl.Seconds(), Refreshing: e.inFlight(now)}
		if e.hasValue {
			age := now.Sub(e.fetchedAt)
			ks.AgeSeconds = domain.Round2(age.Seconds())
			ks.Expired = age >= e.ttl
		}
		st.Keys = append(st.Keys, ks)
	}
	c.mu.Unlock()

	sort.Slice(st.Keys, func(i, j int) bool { return st.Keys[i].Key < st.Keys[j].Key })
	st.Entries = len(st.Keys)
	return st
}

func (c *Cache[T]) hit() {
	c.hits.Add(1)
	if c.opts.recorder != nil {
		c.opts.recorder.CacheHit(c.name)
	}
}

func (c *Cache[T]) miss() {
	c.misses.Add(1)
	if c.opts.recorder != nil {
		c.opts.recorder.CacheMiss(c.name)
	}
}

func (c *Cache[T]) mirrorSave(ctx context.Context, key string, v T, at time.Time) {
	if c.opts.mirror == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = c.opts.mirror.SaveCacheEntry(ctx, c.name, key, data, at)
	}
	if err != nil {
		c.opts.logger.Warn("failed to mirror cache entry",
			logger.String("cache", c.name),
			logger.String("key", key),
			logger.Error(err))
	}
}

// mirrorLoad adopts the mirrored value for key as a stale entry.
func (c *Cache[T]) mirrorLoad(ctx context.Context, key string, e *entry[T]) (Result[T], bool) {
	if c.opts.mirror == nil {
		return Result[T]{}, false
	}
	data, at, found, err := c.opts.mirror.LoadCacheEntry(ctx, c.name, key)
	if err != nil || !found {
		return Result[T]{}, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return Result[T]{}, false
	}

	c.mu.Lock()
	c.store(key, e, v, at)
	c.mu.Unlock()
	return Result[T]{Value: v, FetchedAt: at, Stale: true}, true
}
