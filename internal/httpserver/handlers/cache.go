package handlers

import (
	"context"
	"net/http"

	"github.com/cyb3rgh05t/komandorr/internal/cache"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

type cacheClearResponse struct {
	Status            string `json:"status"`
	AggregateComputed bool   `json:"aggregate_computed"`
}

type cacheWarmResponse struct {
	Status    string `json:"status"`
	Refreshed int    `json:"refreshed"`
}

type cacheStatsResponse struct {
	Caches []cache.Stats `json:"caches"`
}

// CacheClear empties every cache and recomputes the aggregate.
func CacheClear(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.CacheManager.ClearAll(r.Context()); err != nil {
			d.Logger.Warn("cache mirror flush failed", logger.Error(err))
		}

		computed := true
		if _, err := d.Aggregator.ForceRefresh(r.Context()); err != nil {
			computed = false
			d.Logger.Warn("aggregate refresh after cache clear failed", logger.Error(err))
		}

		d.Logger.Info("caches cleared via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusOK, cacheClearResponse{Status: "cleared", AggregateComputed: computed})
	}
}

// CacheWarm refreshes every known cache entry now.
func CacheWarm(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Refreshes outlive the request.
		n := d.CacheManager.WarmNow(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusAccepted, cacheWarmResponse{Status: "warming", Refreshed: n})
	}
}

// CacheStats reports hit and miss counters plus entry ages per cache.
func CacheStats(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cacheStatsResponse{Caches: d.CacheManager.Stats()})
	}
}
