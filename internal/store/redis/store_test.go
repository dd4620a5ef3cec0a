package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
)

func newTestStore(t *testing.T, sampleCap int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, sampleCap), mr
}

func TestServiceRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	svc := domain.NewService("plex", domain.ServiceSpec{Name: "Plex", URL: "https://plex.domain.ext", Type: domain.TypeApp}, time.Now().UTC())
	if err := store.SaveService(ctx, svc); err != nil {
		t.Fatalf("SaveService() error = %v", err)
	}

	got, err := store.GetService(ctx, "plex")
	if err != nil {
		t.Fatalf("GetService() error = %v", err)
	}
	if got.Name != "Plex" || got.Status != domain.StatusOffline {
		t.Errorf("GetService() = %+v", got)
	}

	all, err := store.GetAllServices(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("GetAllServices() = %d services, err %v", len(all), err)
	}

	if err := store.DeleteService(ctx, "plex"); err != nil {
		t.Fatalf("DeleteService() error = %v", err)
	}
	if _, err := store.GetService(ctx, "plex"); !errors.Is(err, domain.ErrServiceNotFound) {
		t.Errorf("GetService() after delete error = %v, want ErrServiceNotFound", err)
	}
}

func TestCommitWritesBatchAtomicallyAndTrims(t *testing.T) {
	store, mr := newTestStore(t, 5)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	svc := &domain.Service{ID: "svc", Name: "svc", Status: domain.StatusOnline}
	batch := samples.Batch{Service: svc}
	for i := 0; i < 8; i++ {
		batch.Samples = append(batch.Samples, domain.NewResponseSample("svc", base.Add(time.Duration(i)*time.Second), float64(i)))
	}
	snap := domain.TrafficUpdate{ServiceID: "svc", BandwidthUp: 1}.Snapshot(base)
	batch.Traffic = &snap

	if err := store.Commit(ctx, batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	n, err := store.CountSamples(ctx, "svc", domain.KindResponse)
	if err != nil {
		t.Fatalf("CountSamples() error = %v", err)
	}
	if n != 5 {
		t.Errorf("series holds %d samples, want cap 5", n)
	}
	if !mr.Exists(ServiceKey("svc")) || !mr.Exists(TrafficKey("svc")) {
		t.Error("service row or traffic snapshot missing after commit")
	}

	tail, err := store.LoadTail(ctx, "svc", domain.KindResponse, 3)
	if err != nil {
		t.Fatalf("LoadTail() error = %v", err)
	}
	if len(tail) != 3 || tail[0].Response.ResponseTimeMs != 5 || tail[2].Response.ResponseTimeMs != 7 {
		t.Errorf("LoadTail(3) = %+v, want samples 5..7 oldest first", tail)
	}

	traffic, _, err := store.LoadSnapshots(ctx, []string{"svc", "missing"})
	if err != nil {
		t.Fatalf("LoadSnapshots() error = %v", err)
	}
	if _, ok := traffic["svc"]; !ok || len(traffic) != 1 {
		t.Errorf("LoadSnapshots() traffic = %+v", traffic)
	}
}

func TestCommitFailureWritesNothing(t *testing.T) {
	store, mr := newTestStore(t, 5)
	ctx := context.Background()

	mr.SetError("LOADING")
	err := store.Commit(ctx, samples.Batch{
		Service: &domain.Service{ID: "svc"},
		Samples: []domain.Sample{domain.NewResponseSample("svc", time.Now(), 1)},
	})
	mr.SetError("")

	if err == nil {
		t.Fatal("Commit() should fail while the server errors")
	}
	if mr.Exists(ServiceKey("svc")) || mr.Exists(SamplesKey("svc", domain.KindResponse)) {
		t.Error("a failed commit left partial state behind")
	}
}

func TestPruneAndDeleteSeries(t *testing.T) {
	store, mr := newTestStore(t, 100)
	ctx := context.Background()
	base := time.Now()

	var batch samples.Batch
	for i := 0; i < 20; i++ {
		batch.Samples = append(batch.Samples, domain.NewResponseSample("svc", base.Add(time.Duration(i)*time.Second), float64(i)))
	}
	if err := store.Commit(ctx, batch); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	removed, err := store.Prune(ctx, "svc", domain.KindResponse, 4)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 16 {
		t.Errorf("Prune() removed %d, want 16", removed)
	}

	if err := store.DeleteSeries(ctx, "svc"); err != nil {
		t.Fatalf("DeleteSeries() error = %v", err)
	}
	if mr.Exists(SamplesKey("svc", domain.KindResponse)) {
		t.Error("series still present after DeleteSeries()")
	}
}

func TestCacheMirror(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.SaveCacheEntry(ctx, "history", "svc", []byte(`{"a":1}`), at); err != nil {
		t.Fatalf("SaveCacheEntry() error = %v", err)
	}
	if err := store.SaveCacheEntry(ctx, "traffic", "summary", []byte(`[]`), at); err != nil {
		t.Fatalf("SaveCacheEntry() error = %v", err)
	}

	data, fetchedAt, found, err := store.LoadCacheEntry(ctx, "history", "svc")
	if err != nil || !found {
		t.Fatalf("LoadCacheEntry() found=%v err=%v", found, err)
	}
	if string(data) != `{"a":1}` || !fetchedAt.Equal(at) {
		t.Errorf("LoadCacheEntry() = %s at %v", data, fetchedAt)
	}

	if err := store.FlushCache(ctx, "history"); err != nil {
		t.Fatalf("FlushCache() error = %v", err)
	}
	if _, _, found, _ := store.LoadCacheEntry(ctx, "history", "svc"); found {
		t.Error("history entry survived FlushCache(history)")
	}
	if _, _, found, _ := store.LoadCacheEntry(ctx, "traffic", "summary"); !found {
		t.Error("FlushCache(history) removed another cache's entry")
	}

	if err := store.DeleteCacheEntry(ctx, "traffic", "summary"); err != nil {
		t.Fatalf("DeleteCacheEntry() error = %v", err)
	}
	if _, _, found, _ := store.LoadCacheEntry(ctx, "traffic", "summary"); found {
		t.Error("entry survived DeleteCacheEntry()")
	}
}

func TestRecordConcurrencyOnlyRaises(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	for _, tc := range []struct {
		sessions int64
		want     int64
	}{{3, 3}, {1, 3}, {7, 7}, {0, 7}} {
		got, err := store.RecordConcurrency(ctx, tc.sessions)
		if err != nil {
			t.Fatalf("RecordConcurrency(%d) error = %v", tc.sessions, err)
		}
		if got != tc.want {
			t.Errorf("RecordConcurrency(%d) = %d, want %d", tc.sessions, got, tc.want)
		}
	}

	peak, err := store.PeakConcurrency(ctx)
	if err != nil || peak != 7 {
		t.Errorf("PeakConcurrency() = %d, %v; want 7", peak, err)
	}
}
