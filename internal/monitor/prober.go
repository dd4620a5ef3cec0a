package monitor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
	"github.com/cyb3rgh05t/komandorr/internal/version"
)

const (
	// DefaultProbeTimeout bounds one outbound check.
	DefaultProbeTimeout = 10 * time.Second

	// maxDrain is how much of a response body is read before closing it.
	maxDrain = 64 << 10
)

// Registry is the part of the service registry the engine reads and writes.
type Registry interface {
	ListEnabled() []domain.Target
	Get(id string) (*domain.Service, error)
	ApplyCheck(id string, res domain.CheckResult) (*domain.Service, bool)
	Guard(id string, fn func(svc *domain.Service) error) error
}

// SampleStore is the part of the sample store the engine writes to.
type SampleStore interface {
	Append(serviceID string, kind domain.SampleKind, sample domain.Sample) error
	Flush(ctx context.Context, serviceID string, b samples.Batch) error
}

// ProbeRecorder receives per-check observations.
type ProbeRecorder interface {
	ObserveProbe(serviceID string, status domain.Status, d time.Duration)
	SweepDone()
	StoreFailure(component string)
}

type ProberConfig struct {
	Timeout time.Duration

	// SlowThreshold marks a responding service as problem when its check
	// takes longer. Zero disables it.
	SlowThreshold time.Duration

	// Concurrency caps in-flight checks per sweep. Zero means one per service.
	Concurrency int

	SkipTLSVerify bool
}

// SweepSummary describes one completed sweep.
type SweepSummary struct {
	Checked  int           `json:"checked"`
	Online   int           `json:"online"`
	Offline  int           `json:"offline"`
	Problem  int           `json:"problem"`
	Duration time.Duration `json:"duration"`
	Finished time.Time     `json:"finished"`
}

// Prober checks every enabled service and records the outcome.
type Prober struct {
	cfg      ProberConfig
	client   *http.Client
	registry Registry
	samples  SampleStore
	recorder ProbeRecorder
	logger   logger.Logger
	now      func() time.Time

	// sweeps runs one sweep at a time and checks runs one check per service
	// at a time; callers arriving while one is in flight share its result.
	sweeps    singleflight.Group
	checks    singleflight.Group
	lastSweep atomic.Pointer[SweepSummary]
}

// checkOutcome is what a shared check hands to every caller waiting on it.
type checkOutcome struct {
	res      domain.CheckResult
	recorded bool
}

// NewProber creates a prober. recorder may be nil.
func NewProber(cfg ProberConfig, reg Registry, store SampleStore, recorder ProbeRecorder, log logger.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}

	return &Prober{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		registry: reg,
		samples:  store,
		recorder: recorder,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProbeAll runs one sweep: every enabled service is checked concurrently and
// the call returns once all checks are recorded. A failing check only
// changes the status of its own service. A call made while a sweep is
// running waits for that sweep and returns its summary.
func (p *Prober) ProbeAll(ctx context.Context) SweepSummary {
	v, _, _ := p.sweeps.Do("sweep", func() (any, error) {
		return p.sweep(ctx), nil
	})
	return v.(SweepSummary)
}

func (p *Prober) sweep(ctx context.Context) SweepSummary {
	start := time.Now()
	targets := p.registry.ListEnabled()

	var (
		mu  sync.Mutex
		sum SweepSummary
	)

	g := new(errgroup.Group)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}
	for _, t := range targets {
		g.Go(func() error {
			out := (<-p.shared(ctx, t)).Val.(checkOutcome)
			if !out.recorded {
				return nil
			}
			res := out.res

			mu.Lock()
			sum.Checked++
			switch res.Status {
			case domain.StatusOnline:
				sum.Online++
			case domain.StatusProblem:
				sum.Problem++
			default:
				sum.Offline++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	sum.Finished = p.now()
	p.lastSweep.Store(&sum)
	if p.recorder != nil {
		p.recorder.SweepDone()
	}

	p.logger.Debug("sweep completed",
		logger.Int("checked", sum.Checked),
		logger.Int("online", sum.Online),
		logger.Int("offline", sum.Offline),
		logger.Int("problem", sum.Problem),
		logger.Duration("duration", sum.Duration))
	return sum
}

// Sweep is ProbeAll shaped for the scheduler.
func (p *Prober) Sweep(ctx context.Context) error {
	p.ProbeAll(ctx)
	return nil
}

// LastSweep returns the summary of the latest sweep, or nil before the first.
func (p *Prober) LastSweep() *SweepSummary {
	return p.lastSweep.Load()
}

// CheckService checks one service immediately, regardless of its enabled
// flag, and returns its updated state. It never waits for a running sweep;
// if that sweep is checking the same service, its result is shared.
func (p *Prober) CheckService(ctx context.Context, id string) (*domain.Service, error) {
	svc, err := p.registry.Get(id)
	if err != nil {
		return nil, err
	}

	// The check is bounded by the probe timeout; once started it is recorded
	// even if the caller goes away.
	var out checkOutcome
	select {
	case r := <-p.shared(context.WithoutCancel(ctx), svc.Target()):
		out = r.Val.(checkOutcome)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !out.recorded {
		if _, err := p.registry.Get(id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: check of %s was interrupted", domain.ErrUnavailable, id)
	}
	return p.registry.Get(id)
}

// shared starts a check of t, or joins the one already running for t.ID.
func (p *Prober) shared(ctx context.Context, t domain.Target) <-chan singleflight.Result {
	return p.checks.DoChan(t.ID, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic while checking service",
					logger.String("service_id", t.ID),
					logger.Any("panic", r))
				v, err = checkOutcome{}, nil
			}
		}()
		res, ok := p.probe(ctx, t)
		return checkOutcome{res: res, recorded: ok}, nil
	})
}

// probe checks t and records the result. ok is false when nothing was
// recorded because the service vanished or ctx was cancelled.
func (p *Prober) probe(ctx context.Context, t domain.Target) (domain.CheckResult, bool) {
	outcome, code, elapsed, err := p.check(ctx, t)
	if ctx.Err() != nil {
		return domain.CheckResult{}, false
	}
	res := domain.Classify(outcome, code, elapsed, p.cfg.Timeout, p.cfg.SlowThreshold, p.now())

	if err != nil {
		p.logger.Debug("service check failed",
			logger.String("service_id", t.ID),
			logger.String("url", t.URL),
			logger.String("status", string(res.Status)),
			logger.Error(err))
	}
	if p.recorder != nil {
		p.recorder.ObserveProbe(t.ID, res.Status, elapsed)
	}

	recorded := false
	gerr := p.registry.Guard(t.ID, func(*domain.Service) error {
		svc, ok := p.registry.ApplyCheck(t.ID, res)
		if !ok {
			return nil
		}
		recorded = true

		if res.Record && res.ResponseTimeMs != nil {
			smp := domain.NewResponseSample(t.ID, res.CheckedAt, *res.ResponseTimeMs)
			if err := p.samples.Append(t.ID, domain.KindResponse, smp); err != nil {
				p.logger.Debug("response sample skipped",
					logger.String("service_id", t.ID),
					logger.Error(err))
			}
		}

		// Status and sample go to the durable store together.
		if err := p.samples.Flush(ctx, t.ID, samples.Batch{Service: svc}); err != nil {
			p.logger.Warn("failed to persist check result",
				logger.String("service_id", t.ID),
				logger.Error(err))
			if p.recorder != nil {
				p.recorder.StoreFailure("prober")
			}
		}
		return nil
	})
	if gerr != nil && !errors.Is(gerr, domain.ErrServiceNotFound) {
		p.logger.Warn("failed to record check", logger.String("service_id", t.ID), logger.Error(gerr))
	}
	return res, recorded
}

// check performs one GET against t.URL, following redirects.
func (p *Prober) check(ctx context.Context, t domain.Target) (domain.Outcome, int, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		return domain.OutcomeError, 0, 0, fmt.Errorf("%w: %w", domain.ErrProbe, err)
	}
	req.Header.Set("User-Agent", version.UserAgent("monitor"))

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			return domain.OutcomeTimeout, 0, elapsed, fmt.Errorf("%w: %w", domain.ErrProbe, err)
		}
		return domain.OutcomeError, 0, elapsed, fmt.Errorf("%w: %w", domain.ErrProbe, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()

	return domain.OutcomeResponded, resp.StatusCode, elapsed, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
