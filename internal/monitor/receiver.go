package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
)

// IngestRecorder receives ingestion outcomes.
type IngestRecorder interface {
	Ingested(kind domain.SampleKind, outcome string)
	StoreFailure(component string)
}

// PeakStore keeps the highest session count ever reported.
type PeakStore interface {
	RecordConcurrency(ctx context.Context, sessions int64) (int64, error)
	PeakConcurrency(ctx context.Context) (int64, error)
}

// Peak tracks peak concurrency in memory in front of an optional PeakStore.
type Peak struct {
	store PeakStore
	max   atomic.Int64
}

func NewPeak(store PeakStore) *Peak {
	return &Peak{store: store}
}

func (p *Peak) raise(v int64) {
	for {
		cur := p.max.Load()
		if v <= cur || p.max.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Observe raises the peak to sessions if it is higher.
func (p *Peak) Observe(ctx context.Context, sessions int64) (int64, error) {
	p.raise(sessions)
	if p.store == nil {
		return p.max.Load(), nil
	}
	v, err := p.store.RecordConcurrency(ctx, sessions)
	if err != nil {
		return p.max.Load(), err
	}
	p.raise(v)
	return p.max.Load(), nil
}

// Current returns the peak, refreshed from the store when one is set.
func (p *Peak) Current(ctx context.Context) int64 {
	if p.store != nil {
		if v, err := p.store.PeakConcurrency(ctx); err == nil {
			p.raise(v)
		}
	}
	return p.max.Load()
}

// Receiver absorbs updates pushed by collector agents. It makes no
// outbound calls.
type Receiver struct {
	registry  Registry
	samples   SampleStore
	snapshots *Snapshots
	peak      *Peak
	recorder  IngestRecorder
	logger    logger.Logger
	now       func() time.Time
}

// NewReceiver creates a receiver. recorder may be nil.
func NewReceiver(reg Registry, store SampleStore, snaps *Snapshots, peak *Peak, recorder IngestRecorder, log logger.Logger) *Receiver {
	return &Receiver{
		registry:  reg,
		samples:   store,
		snapshots: snaps,
		peak:      peak,
		recorder:  recorder,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IngestTraffic validates and records a traffic update.
func (r *Receiver) IngestTraffic(ctx context.Context, u domain.TrafficUpdate) (domain.Ack, error) {
	if err := u.Validate(); err != nil {
		r.count(domain.KindTraffic, "rejected")
		return domain.Ack{}, err
	}
	ts, err := r.timestamp(u.Timestamp)
	if err != nil {
		r.count(domain.KindTraffic, "rejected")
		return domain.Ack{}, err
	}
	snap := u.Snapshot(ts)

	return r.ingest(ctx, u.ServiceID, domain.KindTraffic, u.Sample(ts), func() samples.Batch {
		r.snapshots.SetTraffic(snap)
		return samples.Batch{Traffic: &snap}
	})
}

// IngestStorage validates and records a storage update.
func (r *Receiver) IngestStorage(ctx context.Context, u domain.StorageUpdate) (domain.Ack, error) {
	if err := u.Validate(); err != nil {
		r.count(domain.KindStorage, "rejected")
		return domain.Ack{}, err
	}
	ts, err := r.timestamp(u.Timestamp)
	if err != nil {
		r.count(domain.KindStorage, "rejected")
		return domain.Ack{}, err
	}
	snap := u.Snapshot(ts)

	return r.ingest(ctx, u.ServiceID, domain.KindStorage, u.Sample(ts), func() samples.Batch {
		r.snapshots.SetStorage(snap)
		return samples.Batch{Storage: &snap}
	})
}

// ingest appends the sample and, once it is accepted, swaps in the snapshot
// built by apply and flushes both. Unknown and disabled services are
// rejected before anything is written. Re-delivery of an already stored
// timestamp is acknowledged without writing.
func (r *Receiver) ingest(ctx context.Context, id string, kind domain.SampleKind, smp domain.Sample, apply func() samples.Batch) (domain.Ack, error) {
	ack := domain.Ack{Status: "success", Message: fmt.Sprintf("%s metrics updated", kind)}

	err := r.registry.Guard(id, func(svc *domain.Service) error {
		if !svc.Enabled {
			return fmt.Errorf("%w: %s", domain.ErrServiceDisabled, id)
		}

		if err := r.samples.Append(id, kind, smp); err != nil {
			if errors.Is(err, domain.ErrDuplicateSample) {
				ack.Duplicate = true
				ack.Message = fmt.Sprintf("%s update already recorded", kind)
				return nil
			}
			return err
		}

		b := apply()
		if err := r.samples.Flush(ctx, id, b); err != nil {
			r.logger.Warn("failed to persist pushed metrics",
				logger.String("service_id", id),
				logger.String("kind", string(kind)),
				logger.Error(err))
			if r.recorder != nil {
				r.recorder.StoreFailure("receiver")
			}
		}
		return nil
	})

	switch {
	case err != nil:
		r.count(kind, "rejected")
		r.logger.Info("pushed metrics rejected",
			logger.String("service_id", id),
			logger.String("kind", string(kind)),
			logger.Error(err))
		return domain.Ack{}, err
	case ack.Duplicate:
		r.count(kind, "duplicate")
	default:
		r.count(kind, "accepted")
	}
	return ack, nil
}

// ObserveActivity records a session count reported by a media backend.
func (r *Receiver) ObserveActivity(ctx context.Context, u domain.ActivityUpdate) (domain.Ack, error) {
	if err := u.Validate(); err != nil {
		return domain.Ack{}, err
	}
	var peak int64
	err := r.registry.Guard(u.ServiceID, func(svc *domain.Service) error {
		if !svc.Enabled {
			return fmt.Errorf("%w: %s", domain.ErrServiceDisabled, u.ServiceID)
		}
		var err error
		if peak, err = r.peak.Observe(ctx, u.Sessions); err != nil {
			r.logger.Warn("failed to persist peak concurrency", logger.Error(err))
			if r.recorder != nil {
				r.recorder.StoreFailure("receiver")
			}
		}
		return nil
	})
	if err != nil {
		return domain.Ack{}, err
	}
	return domain.Ack{Status: "success", Message: fmt.Sprintf("peak concurrency %d", peak)}, nil
}

// timestamp resolves the sample time of an update. A missing timestamp means
// now; one further ahead than MaxClockSkew is rejected, since it would
// order every later update before it.
func (r *Receiver) timestamp(ts *time.Time) (time.Time, error) {
	now := r.now()
	if ts == nil || ts.IsZero() {
		return domain.NormalizeTimestamp(now), nil
	}
	if ts.After(now.Add(domain.MaxClockSkew)) {
		return time.Time{}, domain.Invalid("timestamp %s is ahead of server time %s",
			ts.UTC().Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return domain.NormalizeTimestamp(*ts), nil
}

func (r *Receiver) count(kind domain.SampleKind, outcome string) {
	if r.recorder != nil {
		r.recorder.Ingested(kind, outcome)
	}
}
