package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// DefaultWindow is the span of the traffic totals.
const DefaultWindow = 24 * time.Hour

type ServiceLister interface {
	List() []*domain.Service
}

type SampleReader interface {
	Recent(ctx context.Context, serviceID string, kind domain.SampleKind, limit int) ([]domain.Sample, error)
}

type SnapshotReader interface {
	AllTraffic() map[string]domain.TrafficSnapshot
	AllStorage() map[string]domain.StorageSnapshot
}

type PeakReader interface {
	Current(ctx context.Context) int64
}

// Stats is what readers get: the last snapshot, or only Cached=false
// before the first computation.
type Stats struct {
	*domain.AggregateSnapshot
	Cached bool `json:"cached"`
}

// Aggregator recomputes the cross-service rollup in the background and
// publishes it as one immutable snapshot.
type Aggregator struct {
	services  ServiceLister
	samples   SampleReader
	snapshots SnapshotReader
	peak      PeakReader
	window    time.Duration
	logger    logger.Logger
	now       func() time.Time

	computeMu sync.Mutex
	current   atomic.Pointer[domain.AggregateSnapshot]
}

// New creates an aggregator. peak may be nil.
func New(services ServiceLister, samples SampleReader, snaps SnapshotReader, peak PeakReader, log logger.Logger) *Aggregator {
	return &Aggregator{
		services:  services,
		samples:   samples,
		snapshots: snaps,
		peak:      peak,
		window:    DefaultWindow,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetStats returns the last published snapshot without computing.
func (a *Aggregator) GetStats() Stats {
	snap := a.current.Load()
	return Stats{AggregateSnapshot: snap, Cached: snap != nil}
}

// LastComputed returns when the published snapshot was built, or the zero
// time before the first computation.
func (a *Aggregator) LastComputed() time.Time {
	if snap := a.current.Load(); snap != nil {
		return snap.ComputedAt
	}
	return time.Time{}
}

// Refresh computes and publishes a new snapshot. It is the loop body.
func (a *Aggregator) Refresh(ctx context.Context) error {
	_, err := a.ForceRefresh(ctx)
	return err
}

// ForceRefresh computes and publishes a new snapshot now and returns it.
// When ctx ends during the computation the history reads may be partial, so
// nothing is published and the previous snapshot stays current.
func (a *Aggregator) ForceRefresh(ctx context.Context) (domain.AggregateSnapshot, error) {
	a.computeMu.Lock()
	defer a.computeMu.Unlock()

	start := time.Now()
	snap := a.Compute(ctx)
	if err := ctx.Err(); err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("%w: aggregate computation interrupted: %w", domain.ErrUnavailable, err)
	}
	a.current.Store(&snap)

	a.logger.Debug("aggregate refreshed",
		logger.Int("services", snap.Services.Total),
		logger.Duration("took", time.Since(start)))
	return snap, nil
}

// Compute builds a snapshot from the current registry, samples and
// snapshots. With no services every figure is zero.
func (a *Aggregator) Compute(ctx context.Context) domain.AggregateSnapshot {
	now := a.now()
	services := a.services.List()

	snap := domain.AggregateSnapshot{ComputedAt: now}
	for _, svc := range services {
		snap.Services.Add(svc.Status)
	}

	if a.peak != nil {
		snap.PeakConcurrent = a.peak.Current(ctx)
	}

	traffic := a.snapshots.AllTraffic()
	cutoff := now.Add(-a.window)
	for _, svc := range services {
		if cur, ok := traffic[svc.ID]; ok {
			snap.Bandwidth.Up += cur.BandwidthUp
			snap.Bandwidth.Down += cur.BandwidthDown
		}

		series, err := a.samples.Recent(ctx, svc.ID, domain.KindTraffic, 0)
		if err != nil {
			a.logger.Warn("traffic history unavailable",
				logger.String("service_id", svc.ID),
				logger.Error(err))
			continue
		}
		up, down := windowTraffic(series, cutoff)
		snap.Traffic24h.UploadGB += up
		snap.Traffic24h.DownloadGB += down
	}
	snap.Bandwidth.Up = domain.Round2(snap.Bandwidth.Up)
	snap.Bandwidth.Down = domain.Round2(snap.Bandwidth.Down)
	snap.Traffic24h.UploadGB = domain.Round2(snap.Traffic24h.UploadGB)
	snap.Traffic24h.DownloadGB = domain.Round2(snap.Traffic24h.DownloadGB)
	snap.Traffic24h.TotalGB = domain.Round2(snap.Traffic24h.UploadGB + snap.Traffic24h.DownloadGB)

	st := domain.SummarizeStorage(services, a.snapshots.AllStorage())
	snap.Storage = domain.StorageRollup{
		Capacity:     st.TotalCapacity,
		Used:         st.TotalUsed,
		Free:         st.TotalFree,
		RaidHealthy:  st.HealthyRaids,
		RaidDegraded: st.DegradedRaids,
		RaidFailed:   st.FailedRaids,
	}
	return snap
}

// windowTraffic sums the growth of the cumulative counters over the samples
// at or after cutoff. The last sample before cutoff, if any, is the
// baseline. A counter that went backwards was reset, so its new value is
// the growth since the reset.
func windowTraffic(series []domain.Sample, cutoff time.Time) (up, down float64) {
	var prev *domain.TrafficValues
	for _, smp := range series {
		if smp.Traffic == nil {
			continue
		}
		if smp.Timestamp.Before(cutoff) {
			prev = smp.Traffic
			continue
		}
		if prev != nil {
			up += growth(prev.CumulativeUp, smp.Traffic.CumulativeUp)
			down += growth(prev.CumulativeDown, smp.Traffic.CumulativeDown)
		}
		prev = smp.Traffic
	}
	return up, down
}

func growth(prev, cur float64) float64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
