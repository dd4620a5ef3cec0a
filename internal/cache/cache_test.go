package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncSpawn runs warm refreshes inline so tests can assert right after a tick.
func syncSpawn(fn func()) { fn() }

func counter(calls *atomic.Int64, value int) FetchFunc[int] {
	return func(context.Context) (int, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestGetOrFetchWithinTTLFetchesOnce(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int64

	for i := 0; i < 2; i++ {
		res, err := c.GetOrFetch(ctx, "k", 0, counter(&calls, 7))
		if err != nil || res.Value != 7 || res.Stale {
			t.Fatalf("GetOrFetch() = %+v, %v", res, err)
		}
		clock.Advance(4 * time.Second)
	}

	if calls.Load() != 1 {
		t.Errorf("fetch called %d times, want 1", calls.Load())
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", st.Hits, st.Misses)
	}
}

func TestGetOrFetchRefetchesAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", 5*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int64

	_, _ = c.GetOrFetch(ctx, "k", 0, counter(&calls, 1))
	clock.Advance(5 * time.Second)
	res, _ := c.GetOrFetch(ctx, "k", 0, counter(&calls, 2))

	if calls.Load() != 2 || res.Value != 2 {
		t.Errorf("after expiry got %d with %d fetches", res.Value, calls.Load())
	}
}

func TestStaleFallbackOnFetchError(t *testing.T) {
	clock := newFakeClock()
	c := New[string]("test", time.Second, WithClock(clock.Now), WithLogger(logger.Nop()))
	ctx := context.Background()

	first, err := c.GetOrFetch(ctx, "k", 0, func(context.Context) (string, error) { return "good", nil })
	if err != nil {
		t.Fatalf("first GetOrFetch() error = %v", err)
	}

	clock.Advance(2 * time.Second)
	second, err := c.GetOrFetch(ctx, "k", 0, func(context.Context) (string, error) {
		return "", errors.New("upstream down")
	})
	if err != nil {
		t.Fatalf("second GetOrFetch() error = %v, want stale value", err)
	}
	if second.Value != "good" || !second.Stale || !second.FetchedAt.Equal(first.FetchedAt) {
		t.Errorf("second GetOrFetch() = %+v, want stale %q", second, "good")
	}
}

func TestColdFetchErrorIsUnavailable(t *testing.T) {
	c := New[int]("test", time.Second)
	_, err := c.GetOrFetch(context.Background(), "k", 0, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("GetOrFetch() error = %v, want ErrUnavailable", err)
	}
	if domain.CodeOf(err) != domain.CodeFetch {
		t.Errorf("CodeOf() = %q, want %q", domain.CodeOf(err), domain.CodeFetch)
	}
}

func TestReaderDoesNotWaitForForeignRefresh(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", time.Second, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = c.GetOrFetch(ctx, "k", 0, func(context.Context) (int, error) { return 1, nil })
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetOrFetch(ctx, "k", 0, func(context.Context) (int, error) {
			close(started)
			<-release
			return 2, nil
		})
	}()
	<-started

	var calls atomic.Int64
	res, err := c.GetOrFetch(ctx, "k", 0, counter(&calls, 3))
	if err != nil || res.Value != 1 || !res.Stale {
		t.Errorf("concurrent GetOrFetch() = %+v, %v; want stale 1", res, err)
	}
	if calls.Load() != 0 {
		t.Error("second reader started its own fetch while one was in flight")
	}

	close(release)
	<-done
	res, _ = c.GetOrFetch(ctx, "k", 0, counter(&calls, 3))
	if res.Value != 2 || res.Stale {
		t.Errorf("after refresh GetOrFetch() = %+v, want fresh 2", res)
	}
}

func TestWarmBeforeExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int64

	_, _ = c.GetOrFetch(ctx, "k", 0, counter(&calls, 1))

	warmed := 0
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second)
		warmed += c.WarmDue(ctx, 0.8, false, syncSpawn)
	}

	if warmed != 1 || calls.Load() != 2 {
		t.Errorf("warmed %d times with %d fetches, want exactly one proactive fetch", warmed, calls.Load())
	}

	res, _ := c.GetOrFetch(ctx, "k", 0, counter(&calls, 1))
	if res.Stale || calls.Load() != 2 {
		t.Error("reader after warm-up should hit a fresh entry")
	}
}

func TestWarmDueSkipsFreshAndExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int64

	_, _ = c.GetOrFetch(ctx, "k", 0, counter(&calls, 1))

	clock.Advance(5 * time.Second)
	if n := c.WarmDue(ctx, 0.8, false, syncSpawn); n != 0 {
		t.Errorf("fresh entry warmed: %d", n)
	}

	clock.Advance(6 * time.Second)
	if n := c.WarmDue(ctx, 0.8, false, syncSpawn); n != 0 {
		t.Errorf("expired entry warmed: %d", n)
	}

	if n := c.WarmDue(ctx, 0.8, true, syncSpawn); n != 1 {
		t.Errorf("forced warm refreshed %d entries, want 1", n)
	}
}

func TestHungWarmDoesNotBlockOtherKeys(t *testing.T) {
	clock := newFakeClock()
	c := New[int]("test", 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	hang := make(chan struct{})
	defer close(hang)

	_, _ = c.GetOrFetch(ctx, "slow", 0, func(context.Context) (int, error) { return 1, nil })
	c.mu.Lock()
	c.entries["slow"].fetch = func(context.Context) (int, error) {
		<-hang
		return 1, nil
	}
	c.mu.Unlock()

	var fastCalls atomic.Int64
	_, _ = c.GetOrFetch(ctx, "fast", 0, counter(&fastCalls, 2))

	m := NewManager(0.8, logger.Nop())
	m.Register(c)
	clock.Advance(9 * time.Second)

	done := make(chan int)
	go func() { done <- m.Tick(ctx) }()

	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("Tick() started %d refreshes, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Tick() blocked on a hung fetch")
	}

	deadline := time.After(2 * time.Second)
	for fastCalls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("fast key was never refreshed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClearResetsEntriesAndCounters(t *testing.T) {
	c := New[int]("test", time.Minute)
	ctx := context.Background()
	var calls atomic.Int64

	_, _ = c.GetOrFetch(ctx, "a", 0, counter(&calls, 1))
	_, _ = c.GetOrFetch(ctx, "a", 0, counter(&calls, 1))
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	st := c.Stats()
	if st.Entries != 0 || st.Hits != 0 || st.Misses != 0 {
		t.Errorf("Stats() after Clear() = %+v", st)
	}

	_, _ = c.GetOrFetch(ctx, "a", 0, counter(&calls, 1))
	if calls.Load() != 2 {
		t.Errorf("fetch calls = %d, want a refetch after Clear()", calls.Load())
	}
}

type memMirror struct {
	mu      sync.Mutex
	entries map[string][]byte
	at      map[string]time.Time
}

func newMemMirror() *memMirror {
	return &memMirror{entries: map[string][]byte{}, at: map[string]time.Time{}}
}

func (m *memMirror) SaveCacheEntry(_ context.Context, cache, key string, data []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cache+"/"+key] = data
	m.at[cache+"/"+key] = at
	return nil
}

func (m *memMirror) LoadCacheEntry(_ context.Context, cache, key string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[cache+"/"+key]
	return data, m.at[cache+"/"+key], ok, nil
}

func (m *memMirror) DeleteCacheEntry(_ context.Context, cache, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, cache+"/"+key)
	return nil
}

func (m *memMirror) FlushCache(_ context.Context, cache string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string][]byte{}
	return nil
}

func TestMirrorServesColdStart(t *testing.T) {
	mirror := newMemMirror()
	ctx := context.Background()

	warm := New[[]string]("history", time.Minute, WithMirror(mirror))
	if _, err := warm.GetOrFetch(ctx, "svc", 0, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	}); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}

	cold := New[[]string]("history", time.Minute, WithMirror(mirror))
	res, err := cold.GetOrFetch(ctx, "svc", 0, func(context.Context) ([]string, error) {
		return nil, errors.New("store down")
	})
	if err != nil {
		t.Fatalf("cold GetOrFetch() error = %v, want mirrored value", err)
	}
	if !res.Stale || len(res.Value) != 2 {
		t.Errorf("cold GetOrFetch() = %+v", res)
	}

	cold.Invalidate(ctx, "svc")
	if _, _, found, _ := mirror.LoadCacheEntry(ctx, "history", "svc"); found {
		t.Error("Invalidate() left the mirrored entry")
	}
}

type countingRecorder struct{ hits, misses atomic.Int64 }

func (r *countingRecorder) CacheHit(string)  { r.hits.Add(1) }
func (r *countingRecorder) CacheMiss(string) { r.misses.Add(1) }

func TestManager(t *testing.T) {
	rec := &countingRecorder{}
	a := New[int]("a", time.Minute, WithRecorder(rec))
	b := New[string]("b", time.Minute)
	ctx := context.Background()

	m := NewManager(0.8, logger.Nop())
	m.Register(a)
	m.Register(b)

	_, _ = a.GetOrFetch(ctx, "x", 0, func(context.Context) (int, error) { return 1, nil })
	_, _ = a.GetOrFetch(ctx, "x", 0, func(context.Context) (int, error) { return 1, nil })
	_, _ = b.GetOrFetch(ctx, "y", 0, func(context.Context) (string, error) { return "y", nil })

	if n := m.WarmNow(ctx); n != 2 {
		t.Errorf("WarmNow() = %d, want 2", n)
	}
	m.Wait()

	stats := m.Stats()
	if len(stats) != 2 || stats[0].Name != "a" || stats[0].Hits != 1 || stats[0].Misses != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if rec.hits.Load() != 1 || rec.misses.Load() != 1 {
		t.Errorf("recorder saw %d hits, %d misses", rec.hits.Load(), rec.misses.Load())
	}

	if err := m.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	for _, st := range m.Stats() {
		if st.Entries != 0 {
			t.Errorf("cache %s still holds %d entries", st.Name, st.Entries)
		}
	}
}
