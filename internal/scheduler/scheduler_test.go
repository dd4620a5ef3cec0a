package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/registry"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
)

type panicCounter struct{ n atomic.Int64 }

func (p *panicCounter) LoopPanic(string) { p.n.Add(1) }

func TestLoopSurvivesPanicsAndErrors(t *testing.T) {
	var ticks atomic.Int64
	rec := &panicCounter{}
	ctx, cancel := context.WithCancel(context.Background())

	l := &Loop{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Fn: func(context.Context) error {
			switch ticks.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("tick failed")
			case 4:
				cancel()
			}
			return nil
		},
		Immediate: true,
		Logger:    logger.Nop(),
		Recorder:  rec,
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	if ticks.Load() < 4 {
		t.Errorf("ticks = %d, want at least 4", ticks.Load())
	}
	if rec.n.Load() != 1 {
		t.Errorf("recorded panics = %d, want 1", rec.n.Load())
	}
}

func TestLoopRunsOnTrigger(t *testing.T) {
	trigger := make(chan struct{})
	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := &Loop{
		Name:     "import",
		Interval: time.Hour,
		Trigger:  trigger,
		Fn: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
		Logger: logger.Nop(),
	}
	go func() { _ = l.Run(ctx) }()

	trigger <- struct{}{}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not run the loop")
	}
}

func TestLoopRejectsZeroInterval(t *testing.T) {
	l := &Loop{Name: "bad", Fn: func(context.Context) error { return nil }, Logger: logger.Nop()}
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("Run() with zero interval should fail")
	}
}

func TestSupervisorStopDrainsTasks(t *testing.T) {
	sup := NewSupervisor(context.Background(), logger.Nop())

	var stopped sync.WaitGroup
	for _, name := range []string{"prober", "warmer", "aggregator"} {
		stopped.Add(1)
		sup.GoLoop(&Loop{
			Name:     name,
			Interval: time.Millisecond,
			Fn:       func(context.Context) error { return nil },
			Logger:   logger.Nop(),
		})
		sup.Go(name+"-watch", func(ctx context.Context) error {
			defer stopped.Done()
			<-ctx.Done()
			return nil
		})
	}

	sup.Stop()

	done := make(chan error, 1)
	go func() { done <- sup.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after Stop()")
	}
	stopped.Wait()
}

func TestSupervisorTurnsPanicIntoError(t *testing.T) {
	sup := NewSupervisor(context.Background(), logger.Nop())
	sup.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	sup.Go("broken", func(context.Context) error {
		panic("bad wiring")
	})

	err := sup.Wait()
	if err == nil {
		t.Fatal("Wait() should report the panic")
	}
	if sup.Context().Err() == nil {
		t.Error("supervisor context should be cancelled after a failure")
	}
}

type fixedIDs []string

func (f fixedIDs) IDs() []string { return f }

func TestSamplePrunerDropsOrphanedSeries(t *testing.T) {
	store := samples.NewStore(nil, samples.Options{}, logger.Nop())
	at := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"kept", "gone"} {
		if err := store.Append(id, domain.KindResponse, domain.NewResponseSample(id, at, 12)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	sp := NewSamplePruner(store, fixedIDs{"kept"}, logger.Nop())
	if err := sp.Collect(context.Background()); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	ids := store.ServiceIDs()
	if len(ids) != 1 || ids[0] != "kept" {
		t.Errorf("ServiceIDs() after Collect = %v, want [kept]", ids)
	}
	if store.Len("kept", domain.KindResponse) != 1 {
		t.Error("series of a registered service was dropped")
	}
}

type memPersister struct {
	mu       sync.Mutex
	services map[string]*domain.Service
}

func (m *memPersister) SaveService(_ context.Context, svc *domain.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ID] = svc.Clone()
	return nil
}

func (m *memPersister) SaveServicesMany(ctx context.Context, services []*domain.Service) error {
	for _, svc := range services {
		_ = m.SaveService(ctx, svc)
	}
	return nil
}

func (m *memPersister) DeleteService(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, id)
	return nil
}

func (m *memPersister) GetAllServices(context.Context) ([]*domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.Clone())
	}
	return out, nil
}

func TestServicesImporterSeedsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `---
- Media:
    - Plex:
        href: https://plex.domain.ext
        siteMonitor: http://plex:32400
        widget:
          type: plex
    - Docs:
        href: https://docs.domain.ext
        komandorrDisabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	persist := &memPersister{services: map[string]*domain.Service{}}
	reg := registry.New(persist, logger.Nop())

	imp := NewServicesImporter(path, reg, logger.Nop())
	if err := imp.Import(context.Background()); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if reg.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", reg.Count())
	}
	plex, err := reg.Get("plex")
	if err != nil {
		t.Fatalf("Get(plex) error = %v", err)
	}
	if plex.Type != domain.TypeApp || plex.Group != "Media" {
		t.Errorf("plex = %+v", plex)
	}
	docs, err := reg.Get("docs.domain.ext")
	if err != nil {
		t.Fatalf("Get(docs.domain.ext) error = %v", err)
	}
	if docs.Enabled {
		t.Error("komandorrDisabled service imported as enabled")
	}
	if len(persist.services) != 2 {
		t.Errorf("persisted %d services, want 2", len(persist.services))
	}

	// A second import keeps the known status of an unchanged target.
	reg.ApplyCheck("plex", domain.CheckResult{Status: domain.StatusOnline, CheckedAt: time.Now().UTC()})
	if err := imp.Import(context.Background()); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if plex, _ = reg.Get("plex"); plex.Status != domain.StatusOnline {
		t.Errorf("re-import reset status to %s", plex.Status)
	}
}

func TestServicesImporterMissingFile(t *testing.T) {
	reg := registry.New(nil, logger.Nop())
	imp := NewServicesImporter(filepath.Join(t.TempDir(), "missing.yaml"), reg, logger.Nop())
	if err := imp.Import(context.Background()); err == nil {
		t.Fatal("Import() of a missing file should fail")
	}
}

type stubLoader struct {
	ids   []string
	err   error
	loads int
}

func (s *stubLoader) Load(context.Context) (int, error) {
	s.loads++
	return len(s.ids), s.err
}
func (s *stubLoader) IDs() []string { return s.ids }

type stubSource struct{ err error }

func (s stubSource) LoadSnapshots(_ context.Context, ids []string) (map[string]domain.TrafficSnapshot, map[string]domain.StorageSnapshot, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	traffic := map[string]domain.TrafficSnapshot{}
	for _, id := range ids {
		traffic[id] = domain.TrafficSnapshot{ServiceID: id, BandwidthUp: 1}
	}
	return traffic, map[string]domain.StorageSnapshot{}, nil
}

type stubSink struct{ traffic map[string]domain.TrafficSnapshot }

func (s *stubSink) Restore(traffic map[string]domain.TrafficSnapshot, _ map[string]domain.StorageSnapshot) {
	s.traffic = traffic
}

type stubHeads struct{ restored []string }

func (s *stubHeads) Restore(_ context.Context, ids []string) error {
	s.restored = ids
	return nil
}

func TestRedisSyncerRestoresState(t *testing.T) {
	tests := []struct {
		name        string
		loader      *stubLoader
		source      stubSource
		wantErr     bool
		wantTraffic int
		wantHeads   int
	}{
		{name: "restores everything", loader: &stubLoader{ids: []string{"a", "b"}}, wantTraffic: 2, wantHeads: 2},
		{name: "empty store", loader: &stubLoader{}, wantTraffic: 0, wantHeads: 0},
		{name: "service load fails", loader: &stubLoader{err: errors.New("down")}, wantErr: true},
		{name: "snapshot load fails", loader: &stubLoader{ids: []string{"a"}}, source: stubSource{err: errors.New("down")}, wantHeads: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &stubSink{}
			heads := &stubHeads{}
			rs := NewRedisSyncer(tt.loader, tt.source, sink, heads, logger.Nop())

			err := rs.Sync(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Sync() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(sink.traffic) != tt.wantTraffic {
				t.Errorf("restored %d traffic snapshots, want %d", len(sink.traffic), tt.wantTraffic)
			}
			if len(heads.restored) != tt.wantHeads {
				t.Errorf("restored heads for %d services, want %d", len(heads.restored), tt.wantHeads)
			}
		})
	}
}
