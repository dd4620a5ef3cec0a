package samples

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

const (
	// DefaultHeadCap is the number of samples kept resident per series.
	DefaultHeadCap = 100
	// DefaultDurableCap is the number of samples persisted per series.
	DefaultDurableCap = 1000
)

// Batch is one logical update committed to the durable store in a single
// transaction: the service row and current snapshots together with the
// samples they produced.
type Batch struct {
	Service *domain.Service
	Traffic *domain.TrafficSnapshot
	Storage *domain.StorageSnapshot
	Samples []domain.Sample
}

// Empty reports whether b carries nothing to write.
func (b Batch) Empty() bool {
	return b.Service == nil && b.Traffic == nil && b.Storage == nil && len(b.Samples) == 0
}

// Durable is the source of truth behind the in-memory head.
type Durable interface {
	// Commit writes the batch atomically and trims every touched series
	// to the durable cap.
	Commit(ctx context.Context, b Batch) error
	// LoadTail returns up to limit of the newest samples, oldest first.
	LoadTail(ctx context.Context, serviceID string, kind domain.SampleKind, limit int) ([]domain.Sample, error)
	// Prune drops all but the newest keep samples and reports how many went.
	Prune(ctx context.Context, serviceID string, kind domain.SampleKind, keep int) (int64, error)
	// DeleteSeries removes every series and snapshot of a service.
	DeleteSeries(ctx context.Context, serviceID string) error
}

type Options struct {
	HeadCap    int
	DurableCap int
}

type seriesKey struct {
	id   string
	kind domain.SampleKind
}

// series is the per (service, kind) state. Services never share a series,
// so writers for different services only meet on the map lock.
type series struct {
	mu      sync.Mutex
	head    *ring
	pending []domain.Sample // appended but not yet committed
	last    time.Time
	hasLast bool
}

// Store keeps a bounded in-memory head per series in front of a Durable.
type Store struct {
	mu         sync.RWMutex
	series     map[seriesKey]*series
	durable    Durable
	headCap    int
	durableCap int
	logger     logger.Logger
	now        func() time.Time
}

// NewStore creates a sample store. durable may be nil, in which case the
// head is the only tier.
func NewStore(durable Durable, opts Options, log logger.Logger) *Store {
	if opts.HeadCap <= 0 {
		opts.HeadCap = DefaultHeadCap
	}
	if opts.DurableCap <= 0 {
		opts.DurableCap = DefaultDurableCap
	}
	if opts.DurableCap < opts.HeadCap {
		opts.DurableCap = opts.HeadCap
	}
	return &Store{
		series:     make(map[seriesKey]*series),
		durable:    durable,
		headCap:    opts.HeadCap,
		durableCap: opts.DurableCap,
		logger:     log,
		now:        time.Now,
	}
}

func (s *Store) seriesFor(id string, kind domain.SampleKind, create bool) *series {
	k := seriesKey{id: id, kind: kind}

	s.mu.RLock()
	sr := s.series[k]
	s.mu.RUnlock()
	if sr != nil || !create {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr = s.series[k]; sr == nil {
		sr = &series{head: newRing(s.headCap)}
		s.series[k] = sr
	}
	return sr
}

// Append adds sample to the (serviceID, kind) series in memory and queues it
// for the next Flush. Timestamps must strictly increase within a series:
// an equal timestamp returns ErrDuplicateSample, an older one
// ErrOutOfOrderSample, and in both cases nothing is stored.
func (s *Store) Append(serviceID string, kind domain.SampleKind, sample domain.Sample) error {
	if !kind.IsValid() {
		return domain.Invalid("unknown sample kind %q", kind)
	}
	sample.ServiceID = serviceID
	sample.Kind = kind
	sample.Timestamp = domain.NormalizeTimestamp(sample.Timestamp)

	sr := s.seriesFor(serviceID, kind, true)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.hasLast {
		switch {
		case sample.Timestamp.Equal(sr.last):
			return fmt.Errorf("%w: %s/%s at %s", domain.ErrDuplicateSample, serviceID, kind, sample.Timestamp.Format(time.RFC3339Nano))
		case sample.Timestamp.Before(sr.last):
			return fmt.Errorf("%w: %s/%s at %s", domain.ErrOutOfOrderSample, serviceID, kind, sample.Timestamp.Format(time.RFC3339Nano))
		}
	}

	sr.head.push(sample)
	sr.last = sample.Timestamp
	sr.hasLast = true

	if s.durable != nil {
		sr.pending = append(sr.pending, sample)
		s.capPending(sr)
	}
	return nil
}

// capPending keeps at most durableCap unflushed samples; older ones would be
// pruned on commit anyway.
func (s *Store) capPending(sr *series) {
	if over := len(sr.pending) - s.durableCap; over > 0 {
		sr.pending = append([]domain.Sample(nil), sr.pending[over:]...)
	}
}

// Recent returns up to limit of the newest samples, oldest first. A limit
// of zero or less, or above the durable cap, means the durable cap.
// Requests the head can satisfy never touch the durable store.
func (s *Store) Recent(ctx context.Context, serviceID string, kind domain.SampleKind, limit int) ([]domain.Sample, error) {
	if limit <= 0 || limit > s.durableCap {
		limit = s.durableCap
	}

	var head, pending []domain.Sample
	if sr := s.seriesFor(serviceID, kind, false); sr != nil {
		sr.mu.Lock()
		if limit <= sr.head.len() || s.durable == nil {
			head = sr.head.tail(limit)
			sr.mu.Unlock()
			return head, nil
		}
		head = sr.head.tail(0)
		pending = append([]domain.Sample(nil), sr.pending...)
		sr.mu.Unlock()
	}

	if s.durable == nil {
		return []domain.Sample{}, nil
	}

	committed, err := s.durable.LoadTail(ctx, serviceID, kind, limit)
	if err != nil {
		s.logger.Warn("durable read failed, serving resident samples",
			logger.String("service_id", serviceID),
			logger.String("kind", string(kind)),
			logger.Error(err))
		if head == nil {
			head = []domain.Sample{}
		}
		return head, nil
	}

	merged := mergeByTimestamp(committed, head, pending)
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, nil
}

// mergeByTimestamp merges ordered sequences, keeping one sample per timestamp.
func mergeByTimestamp(seqs ...[]domain.Sample) []domain.Sample {
	n := 0
	for _, seq := range seqs {
		n += len(seq)
	}
	out := make([]domain.Sample, 0, n)
	for _, seq := range seqs {
		out = append(out, seq...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for i, smp := range out {
		if i > 0 && smp.Timestamp.Equal(dedup[len(dedup)-1].Timestamp) {
			continue
		}
		dedup = append(dedup, smp)
	}
	return dedup
}

// Latest returns the newest resident sample of a series.
func (s *Store) Latest(serviceID string, kind domain.SampleKind) (domain.Sample, bool) {
	sr := s.seriesFor(serviceID, kind, false)
	if sr == nil {
		return domain.Sample{}, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.head.len() == 0 {
		return domain.Sample{}, false
	}
	return sr.head.tail(1)[0], true
}

// Len returns the number of resident samples of a series.
func (s *Store) Len(serviceID string, kind domain.SampleKind) int {
	sr := s.seriesFor(serviceID, kind, false)
	if sr == nil {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.head.len()
}

// Flush commits every pending sample of serviceID together with b in one
// durable transaction. On failure the samples stay queued for the next
// flush and the error wraps ErrStore; the head is unaffected either way.
func (s *Store) Flush(ctx context.Context, serviceID string, b Batch) error {
	if s.durable == nil {
		return nil
	}

	taken := make(map[domain.SampleKind][]domain.Sample, len(domain.SampleKinds))
	for _, kind := range domain.SampleKinds {
		sr := s.seriesFor(serviceID, kind, false)
		if sr == nil {
			continue
		}
		sr.mu.Lock()
		if len(sr.pending) > 0 {
			taken[kind] = sr.pending
			sr.pending = nil
		}
		sr.mu.Unlock()
		b.Samples = append(b.Samples, taken[kind]...)
	}

	if b.Empty() {
		return nil
	}

	if err := s.durable.Commit(ctx, b); err != nil {
		for kind, list := range taken {
			sr := s.seriesFor(serviceID, kind, true)
			sr.mu.Lock()
			sr.pending = append(list, sr.pending...)
			s.capPending(sr)
			sr.mu.Unlock()
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrStore, serviceID, err)
	}
	return nil
}

// Pending returns the number of samples waiting for a successful flush.
func (s *Store) Pending(serviceID string) int {
	n := 0
	for _, kind := range domain.SampleKinds {
		if sr := s.seriesFor(serviceID, kind, false); sr != nil {
			sr.mu.Lock()
			n += len(sr.pending)
			sr.mu.Unlock()
		}
	}
	return n
}

// Prune trims the durable series to the durable cap.
func (s *Store) Prune(ctx context.Context, serviceID string, kind domain.SampleKind) (int64, error) {
	if s.durable == nil {
		return 0, nil
	}
	return s.durable.Prune(ctx, serviceID, kind, s.durableCap)
}

// PruneAll trims every series of the given services and returns the total
// number of samples removed.
func (s *Store) PruneAll(ctx context.Context, serviceIDs []string) (int64, error) {
	var removed int64
	var errs []error
	for _, id := range serviceIDs {
		for _, kind := range domain.SampleKinds {
			n, err := s.Prune(ctx, id, kind)
			if err != nil {
				errs = append(errs, fmt.Errorf("prune %s/%s: %w", id, kind, err))
				continue
			}
			removed += n
		}
	}
	return removed, errors.Join(errs...)
}

// Restore rebuilds the head of every series of serviceIDs from the durable tail.
func (s *Store) Restore(ctx context.Context, serviceIDs []string) error {
	if s.durable == nil {
		return nil
	}
	var errs []error
	for _, id := range serviceIDs {
		for _, kind := range domain.SampleKinds {
			tail, err := s.durable.LoadTail(ctx, id, kind, s.headCap)
			if err != nil {
				errs = append(errs, fmt.Errorf("restore %s/%s: %w", id, kind, err))
				continue
			}
			tail = s.dropFuture(id, kind, tail)
			if len(tail) == 0 {
				continue
			}
			sr := s.seriesFor(id, kind, true)
			sr.mu.Lock()
			sr.head.reset()
			for _, smp := range tail {
				sr.head.push(smp)
			}
			sr.last = tail[len(tail)-1].Timestamp
			sr.hasLast = true
			sr.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// dropFuture cuts samples stamped beyond the allowed clock skew off an
// ordered tail, so they cannot become the series head after a restart.
func (s *Store) dropFuture(id string, kind domain.SampleKind, tail []domain.Sample) []domain.Sample {
	limit := s.now().Add(domain.MaxClockSkew)
	n := sort.Search(len(tail), func(i int) bool { return tail[i].Timestamp.After(limit) })
	if n < len(tail) {
		s.logger.Warn("ignoring samples stamped in the future",
			logger.String("service_id", id),
			logger.String("kind", string(kind)),
			logger.Int("count", len(tail)-n))
	}
	return tail[:n]
}

// ServiceIDs returns every service with a resident series.
func (s *Store) ServiceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	ids := make([]string, 0, len(s.series))
	for k := range s.series {
		if !seen[k.id] {
			seen[k.id] = true
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DropService forgets every series of serviceID in memory and in the durable store.
func (s *Store) DropService(ctx context.Context, serviceID string) error {
	s.mu.Lock()
	for _, kind := range domain.SampleKinds {
		delete(s.series, seriesKey{id: serviceID, kind: kind})
	}
	s.mu.Unlock()

	if s.durable == nil {
		return nil
	}
	return s.durable.DeleteSeries(ctx, serviceID)
}
