// Package metrics exports the engine's own health as Prometheus metrics.
//
// Every method is safe on a nil *Metrics so components can run without
// an exporter in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
)

const namespace = "komandorr"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	probeDuration *prometheus.HistogramVec
	serviceStatus *prometheus.GaugeVec
	sweeps        prometheus.Counter
	cacheRequests *prometheus.CounterVec
	ingested      *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	loopPanics    *prometheus.CounterVec
	aggregateAge  prometheus.GaugeFunc
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry. lastAggregate may be nil.
func New(lastAggregate func() time.Time) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of outbound service checks",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		serviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_status",
			Help:      "Current status of a monitored service (1 for the active status label)",
		}, []string{"service_id", "status"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_sweeps_total",
			Help:      "Completed prober sweeps",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_updates_total",
			Help:      "Pushed metric updates by kind and outcome",
		}, []string{"kind", "outcome"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Durable writes that failed, by component",
		}, []string{"component"}),
		loopPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_panics_total",
			Help:      "Panics recovered in background loops",
		}, []string{"loop"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.probeDuration,
		m.serviceStatus,
		m.sweeps,
		m.cacheRequests,
		m.ingested,
		m.storeFailures,
		m.loopPanics,
	)

	if lastAggregate != nil {
		m.aggregateAge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_age_seconds",
			Help:      "Seconds since the aggregate snapshot was last computed",
		}, func() float64 {
			at := lastAggregate()
			if at.IsZero() {
				return -1
			}
			return time.Since(at).Seconds()
		})
		m.registry.MustRegister(m.aggregateAge)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one check and the resulting status of a service.
func (m *Metrics) ObserveProbe(serviceID string, status domain.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	for _, s := range []domain.Status{domain.StatusOnline, domain.StatusOffline, domain.StatusProblem} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.serviceStatus.WithLabelValues(serviceID, string(s)).Set(v)
	}
}

// SweepDone counts a completed sweep.
func (m *Metrics) SweepDone() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

// ForgetService drops the per-service series of a deleted service.
func (m *Metrics) ForgetService(serviceID string) {
	if m == nil {
		return
	}
	m.serviceStatus.DeletePartialMatch(prometheus.Labels{"service_id": serviceID})
}

func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

// Ingested counts a pushed update; outcome is accepted, duplicate or rejected.
func (m *Metrics) Ingested(kind domain.SampleKind, outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) StoreFailure(component string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(component).Inc()
}

func (m *Metrics) LoopPanic(loop string) {
	if m == nil {
		return
	}
	m.loopPanics.WithLabelValues(loop).Inc()
}
