package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// DefaultWarmThreshold is the share of the TTL after which the warmer
// refreshes an entry.
const DefaultWarmThreshold = 0.8

// Stats describes one cache instance.
type Stats struct {
	Name       string     `json:"name"`
	TTLSeconds float64    `json:"ttl_seconds"`
	Hits       int64      `json:"hits"`
	Misses     int64      `json:"misses"`
	HitRate    float64    `json:"hit_rate"`
	Entries    int        `json:"entries"`
	Keys       []KeyStats `json:"keys"`
}

type KeyStats struct {
	Key        string  `json:"key"`
	AgeSeconds float64 `json:"age_seconds"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Expired    bool    `json:"expired"`
	Refreshing bool    `json:"refreshing"`
}

// Instance is the type-independent surface of a Cache used by the Manager.
type Instance interface {
	Name() string
	WarmDue(ctx context.Context, threshold float64, force bool, spawn func(func())) int
	Clear(ctx context.Context) error
	Stats() Stats
}

// Manager owns the set of cache instances and runs their warm-ups.
type Manager struct {
	mu        sync.RWMutex
	caches    []Instance
	threshold float64
	logger    logger.Logger

	wg sync.WaitGroup
}

// NewManager creates a manager warming entries once threshold of their TTL
// has elapsed.
func NewManager(threshold float64, log logger.Logger) *Manager {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultWarmThreshold
	}
	return &Manager{threshold: threshold, logger: log}
}

// Register adds a cache instance. Names must be unique.
func (m *Manager) Register(c Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.caches {
		if existing.Name() == c.Name() {
			panic(fmt.Sprintf("cache %q registered twice", c.Name()))
		}
	}
	m.caches = append(m.caches, c)
}

func (m *Manager) instances() []Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Instance(nil), m.caches...)
}

// Tick runs one warmer pass and returns the number of refreshes started.
// It does not wait for them.
func (m *Manager) Tick(ctx context.Context) int {
	n := 0
	for _, c := range m.instances() {
		n += c.WarmDue(ctx, m.threshold, false, m.spawn)
	}
	if n > 0 {
		m.logger.Debug("cache warm-up started", logger.Int("refreshes", n))
	}
	return n
}

// WarmNow refreshes every known key of every cache regardless of age.
func (m *Manager) WarmNow(ctx context.Context) int {
	n := 0
	for _, c := range m.instances() {
		n += c.WarmDue(ctx, m.threshold, true, m.spawn)
	}
	m.logger.Info("cache warm-up forced", logger.Int("refreshes", n))
	return n
}

// ClearAll empties every cache and its mirror.
func (m *Manager) ClearAll(ctx context.Context) error {
	var errs []error
	for _, c := range m.instances() {
		if err := c.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("all caches cleared")
	return errors.Join(errs...)
}

// Stats returns the stats of every cache in registration order.
func (m *Manager) Stats() []Stats {
	caches := m.instances()
	out := make([]Stats, 0, len(caches))
	for _, c := range caches {
		out = append(out, c.Stats())
	}
	return out
}

// Wait blocks until every refresh started by the manager has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic during cache warm-up", logger.Any("panic", r))
			}
		}()
		fn()
	}()
}
