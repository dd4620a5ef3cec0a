package samples

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// memDurable is an in-memory Durable that trims to a cap like the real store.
type memDurable struct {
	mu        sync.Mutex
	cap       int
	series    map[seriesKey][]domain.Sample
	commits   int
	loads     int
	failNext  bool
	lastBatch Batch
}

func newMemDurable(capacity int) *memDurable {
	return &memDurable{cap: capacity, series: make(map[seriesKey][]domain.Sample)}
}

func (m *memDurable) Commit(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("connection reset")
	}
	m.commits++
	m.lastBatch = b
	for _, smp := range b.Samples {
		k := seriesKey{id: smp.ServiceID, kind: smp.Kind}
		list := append(m.series[k], smp)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		if len(list) > m.cap {
			list = list[len(list)-m.cap:]
		}
		m.series[k] = list
	}
	return nil
}

func (m *memDurable) LoadTail(_ context.Context, id string, kind domain.SampleKind, limit int) ([]domain.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	list := m.series[seriesKey{id: id, kind: kind}]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]domain.Sample(nil), list...), nil
}

func (m *memDurable) Prune(_ context.Context, id string, kind domain.SampleKind, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seriesKey{id: id, kind: kind}
	list := m.series[k]
	if len(list) <= keep {
		return 0, nil
	}
	removed := len(list) - keep
	m.series[k] = list[removed:]
	return int64(removed), nil
}

func (m *memDurable) DeleteSeries(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range domain.SampleKinds {
		delete(m.series, seriesKey{id: id, kind: kind})
	}
	return nil
}

func (m *memDurable) count(id string, kind domain.SampleKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.series[seriesKey{id: id, kind: kind}])
}

func responseAt(base time.Time, i int) domain.Sample {
	return domain.NewResponseSample("", base.Add(time.Duration(i)*time.Second), float64(i))
}

func TestAppendRejectsDuplicateAndOutOfOrder(t *testing.T) {
	s := NewStore(nil, Options{}, logger.Nop())
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Append("svc", domain.KindResponse, responseAt(base, 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append("svc", domain.KindResponse, responseAt(base, 1)); !errors.Is(err, domain.ErrDuplicateSample) {
		t.Errorf("duplicate Append() error = %v, want ErrDuplicateSample", err)
	}
	if err := s.Append("svc", domain.KindResponse, responseAt(base, 0)); !errors.Is(err, domain.ErrOutOfOrderSample) {
		t.Errorf("older Append() error = %v, want ErrOutOfOrderSample", err)
	}
	if got := s.Len("svc", domain.KindResponse); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	// Another kind of the same service is an independent series.
	if err := s.Append("svc", domain.KindTraffic, domain.TrafficUpdate{ServiceID: "svc"}.Sample(base.Add(time.Second))); err != nil {
		t.Errorf("Append() on another kind error = %v", err)
	}
}

func TestAppendDuplicateWithinSameMillisecond(t *testing.T) {
	s := NewStore(nil, Options{}, logger.Nop())
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_ = s.Append("svc", domain.KindResponse, domain.NewResponseSample("svc", base.Add(100*time.Microsecond), 1))
	err := s.Append("svc", domain.KindResponse, domain.NewResponseSample("svc", base.Add(900*time.Microsecond), 2))
	if !errors.Is(err, domain.ErrDuplicateSample) {
		t.Errorf("Append() in the same millisecond error = %v, want ErrDuplicateSample", err)
	}
}

func TestRetentionAfterManyAppends(t *testing.T) {
	durable := newMemDurable(DefaultDurableCap)
	s := NewStore(durable, Options{HeadCap: 100, DurableCap: DefaultDurableCap}, logger.Nop())
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10000; i++ {
		if err := s.Append("svc", domain.KindResponse, responseAt(base, i)); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if i%7 == 0 {
			if err := s.Flush(ctx, "svc", Batch{}); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
		}
		if got := s.Len("svc", domain.KindResponse); got > 100 {
			t.Fatalf("head holds %d samples, cap is 100", got)
		}
	}
	if err := s.Flush(ctx, "svc", Batch{}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	all, err := s.Recent(ctx, "svc", domain.KindResponse, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != DefaultDurableCap {
		t.Fatalf("Recent(all) returned %d samples, want %d", len(all), DefaultDurableCap)
	}
	if all[len(all)-1].Response.ResponseTimeMs != 9999 {
		t.Errorf("newest sample = %v, want 9999", all[len(all)-1].Response.ResponseTimeMs)
	}
	for i := 1; i < len(all); i++ {
		if !all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Fatalf("samples out of order at %d", i)
		}
	}
	if got := durable.count("svc", domain.KindResponse); got > DefaultDurableCap {
		t.Errorf("durable holds %d samples, cap is %d", got, DefaultDurableCap)
	}
}

func TestRecentServedFromHead(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{HeadCap: 10, DurableCap: 1000}, logger.Nop())
	base := time.Now()

	for i := 0; i < 20; i++ {
		_ = s.Append("svc", domain.KindResponse, responseAt(base, i))
	}

	got, err := s.Recent(context.Background(), "svc", domain.KindResponse, 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 5 || got[4].Response.ResponseTimeMs != 19 || got[0].Response.ResponseTimeMs != 15 {
		t.Errorf("Recent(5) = %+v, want the five newest oldest first", got)
	}
	if durable.loads != 0 {
		t.Errorf("a head-sized read hit the durable store %d times", durable.loads)
	}
}

func TestRecentIncludesUnflushedSamples(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{HeadCap: 2, DurableCap: 1000}, logger.Nop())
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		_ = s.Append("svc", domain.KindResponse, responseAt(base, i))
	}
	_ = s.Flush(ctx, "svc", Batch{})
	for i := 5; i < 8; i++ {
		_ = s.Append("svc", domain.KindResponse, responseAt(base, i))
	}

	got, err := s.Recent(ctx, "svc", domain.KindResponse, 100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 8 {
		t.Errorf("Recent() returned %d samples, want 8", len(got))
	}
}

func TestRecentKeepsResidentSamplesWhenDurableIsBehind(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{HeadCap: 10, DurableCap: 1000}, logger.Nop())
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		_ = s.Append("svc", domain.KindResponse, responseAt(base, i))
	}
	if err := s.Flush(ctx, "svc", Batch{}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	// Redis restarted without persistence.
	_ = durable.DeleteSeries(ctx, "svc")

	got, err := s.Recent(ctx, "svc", domain.KindResponse, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Recent() returned %d samples, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Fatalf("samples not ordered: %v then %v", got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestFlushFailureKeepsPending(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{}, logger.Nop())
	ctx := context.Background()
	base := time.Now()

	_ = s.Append("svc", domain.KindResponse, responseAt(base, 1))
	durable.failNext = true

	err := s.Flush(ctx, "svc", Batch{Service: &domain.Service{ID: "svc"}})
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("Flush() error = %v, want ErrStore", err)
	}
	if got := s.Pending("svc"); got != 1 {
		t.Fatalf("Pending() = %d after failed flush, want 1", got)
	}
	if got := s.Len("svc", domain.KindResponse); got != 1 {
		t.Errorf("head lost the sample after a failed flush")
	}

	_ = s.Append("svc", domain.KindResponse, responseAt(base, 2))
	if err := s.Flush(ctx, "svc", Batch{}); err != nil {
		t.Fatalf("Flush() retry error = %v", err)
	}
	if got := s.Pending("svc"); got != 0 {
		t.Errorf("Pending() = %d after successful flush, want 0", got)
	}
	if got := durable.count("svc", domain.KindResponse); got != 2 {
		t.Errorf("durable holds %d samples, want 2", got)
	}
}

func TestFlushCommitsServiceWithSamples(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{}, logger.Nop())

	_ = s.Append("svc", domain.KindResponse, responseAt(time.Now(), 1))
	svc := &domain.Service{ID: "svc", Status: domain.StatusOnline}
	if err := s.Flush(context.Background(), "svc", Batch{Service: svc}); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if durable.commits != 1 {
		t.Fatalf("commits = %d, want a single transaction", durable.commits)
	}
	if durable.lastBatch.Service == nil || len(durable.lastBatch.Samples) != 1 {
		t.Errorf("batch = %+v, want the service row and its sample together", durable.lastBatch)
	}
}

func TestRestoreRebuildsHead(t *testing.T) {
	durable := newMemDurable(1000)
	ctx := context.Background()
	base := time.Now()

	first := NewStore(durable, Options{HeadCap: 10}, logger.Nop())
	for i := 0; i < 30; i++ {
		_ = first.Append("svc", domain.KindResponse, responseAt(base, i))
	}
	_ = first.Flush(ctx, "svc", Batch{})

	second := NewStore(durable, Options{HeadCap: 10}, logger.Nop())
	if err := second.Restore(ctx, []string{"svc"}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := second.Len("svc", domain.KindResponse); got != 10 {
		t.Errorf("restored head holds %d samples, want 10", got)
	}
	if err := second.Append("svc", domain.KindResponse, responseAt(base, 29)); !errors.Is(err, domain.ErrDuplicateSample) {
		t.Errorf("Append() after restore error = %v, want ErrDuplicateSample", err)
	}
}

func TestRestoreIgnoresFutureSamples(t *testing.T) {
	durable := newMemDurable(1000)
	ctx := context.Background()
	base := time.Now()

	first := NewStore(durable, Options{HeadCap: 10}, logger.Nop())
	_ = first.Append("svc", domain.KindTraffic, domain.Sample{Timestamp: base})
	_ = first.Append("svc", domain.KindTraffic, domain.Sample{Timestamp: base.AddDate(100, 0, 0)})
	_ = first.Flush(ctx, "svc", Batch{})

	second := NewStore(durable, Options{HeadCap: 10}, logger.Nop())
	if err := second.Restore(ctx, []string{"svc"}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := second.Len("svc", domain.KindTraffic); got != 1 {
		t.Errorf("restored head holds %d samples, want 1", got)
	}
	if err := second.Append("svc", domain.KindTraffic, domain.Sample{Timestamp: base.Add(time.Second)}); err != nil {
		t.Errorf("Append() after restore error = %v", err)
	}
}

func TestDropService(t *testing.T) {
	durable := newMemDurable(1000)
	s := NewStore(durable, Options{}, logger.Nop())
	ctx := context.Background()

	_ = s.Append("svc", domain.KindResponse, responseAt(time.Now(), 1))
	_ = s.Flush(ctx, "svc", Batch{})

	if err := s.DropService(ctx, "svc"); err != nil {
		t.Fatalf("DropService() error = %v", err)
	}
	if got := s.Len("svc", domain.KindResponse); got != 0 {
		t.Errorf("head still holds %d samples", got)
	}
	if got := durable.count("svc", domain.KindResponse); got != 0 {
		t.Errorf("durable still holds %d samples", got)
	}
}

func TestRingTail(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.push(domain.Sample{Response: &domain.ResponseValues{ResponseTimeMs: float64(i)}})
	}
	got := r.tail(0)
	if len(got) != 3 {
		t.Fatalf("tail(0) len = %d, want 3", len(got))
	}
	for i, want := range []float64{2, 3, 4} {
		if got[i].Response.ResponseTimeMs != want {
			t.Errorf("tail[%d] = %v, want %v", i, got[i].Response.ResponseTimeMs, want)
		}
	}
	if got := r.tail(1); got[0].Response.ResponseTimeMs != 4 {
		t.Errorf("tail(1) = %v, want 4", got[0].Response.ResponseTimeMs)
	}
}
