package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

type searchResult struct {
	*domain.Service
	Score float64 `json:"score"`
}

// ListServices returns every service, or the ones matching ?q= ranked by relevance.
func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, http.StatusOK, d.Registry.List())
			return
		}

		matches := d.Registry.Search(q)
		out := make([]searchResult, len(matches))
		for i, m := range matches {
			out[i] = searchResult{Service: m.Service, Score: m.Score}
		}
		d.Logger.Debug("service search",
			logger.String("query", q),
			logger.Int("matches", len(out)))
		writeJSON(w, http.StatusOK, out)
	}
}

func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// CreateService registers a new service. It starts offline until the next sweep.
func CreateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec domain.ServiceSpec
		if err := decodeJSON(w, r, &spec); err != nil {
			writeError(w, r, d, err)
			return
		}
		if spec.Type == "" {
			spec.Type = domain.TypeWebsite
		}

		svc, err := d.Registry.Create(r.Context(), spec)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusCreated, svc)
	}
}

func UpdateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch domain.ServicePatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, r, d, err)
			return
		}

		svc, err := d.Registry.Update(r.Context(), chi.URLParam(r, "id"), patch)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// DeleteService removes the service and everything recorded for it.
func DeleteService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, d, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CheckService probes one service now, even if it is disabled.
func CheckService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Prober.CheckService(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// CheckAll runs a full sweep and returns once every check is recorded.
func CheckAll(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Prober.ProbeAll(r.Context()))
	}
}

// ResponseHistory returns the most recent response-time samples, oldest first.
func ResponseHistory(d deps.Deps) http.HandlerFunc {
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

		history, err := d.Samples.Recent(r.Context(), id, domain.KindResponse, limit)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}
