package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
)

const summaryKey = "all"

type historyResponse struct {
	ServiceID string          `json:"service_id"`
	Stale     bool            `json:"stale,omitempty"`
	Samples   []domain.Sample `json:"samples"`
}

type trafficSummaryResponse struct {
	domain.TrafficSummary
	Stale bool `json:"stale,omitempty"`
}

type storageSummaryResponse struct {
	domain.StorageSummary
	Stale bool `json:"stale,omitempty"`
}

// TrafficSummary returns the bandwidth and traffic totals across services.
func TrafficSummary(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := d.Caches.TrafficSummary
		res, err := c.GetOrFetch(r.Context(), summaryKey, c.TTL(), func(context.Context) (domain.TrafficSummary, error) {
			return domain.SummarizeTraffic(d.Registry.List(), d.Snapshots.AllTraffic()), nil
		})
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, trafficSummaryResponse{TrafficSummary: res.Value, Stale: res.Stale})
	}
}

// StorageSummary returns capacity and raid health across services.
func StorageSummary(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := d.Caches.StorageSummary
		res, err := c.GetOrFetch(r.Context(), summaryKey, c.TTL(), func(context.Context) (domain.StorageSummary, error) {
			return domain.SummarizeStorage(d.Registry.List(), d.Snapshots.AllStorage()), nil
		})
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, storageSummaryResponse{StorageSummary: res.Value, Stale: res.Stale})
	}
}

// TrafficCurrent returns the latest traffic snapshot of one service.
func TrafficCurrent(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := d.Registry.Get(id); err != nil {
			writeError(w, r, d, err)
			return
		}
		snap, ok := d.Snapshots.Traffic(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no traffic data for " + id})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// StorageCurrent returns the latest storage snapshot of one service.
func StorageCurrent(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := d.Registry.Get(id); err != nil {
			writeError(w, r, d, err)
			return
		}
		snap, ok := d.Snapshots.Storage(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no storage data for " + id})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func TrafficHistory(d deps.Deps) http.HandlerFunc {
	return history(d, domain.KindTraffic)
}

func StorageHistory(d deps.Deps) http.HandlerFunc {
	return history(d, domain.KindStorage)
}

// history serves the series of kind through the history cache. The cache
// holds the full series per service; ?limit= trims the tail.
func history(d deps.Deps, kind domain.SampleKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := d.Registry.Get(id); err != nil {
			writeError(w, r, d, err)
			return
		}
		limit, err := limitParam(r, d.HistoryLimit)
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		c := d.Caches.History
		res, err := c.GetOrFetch(r.Context(), deps.HistoryKey(kind, id), c.TTL(), func(ctx context.Context) ([]domain.Sample, error) {
			return d.Samples.Recent(ctx, id, kind, d.HistoryLimit)
		})
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{
			ServiceID: id,
			Stale:     res.Stale,
			Samples:   tail(res.Value, limit),
		})
	}
}
