package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/handlers"
)

func init() { Register(registerTelemetry) }

func registerTelemetry(r chi.Router, d deps.Deps) {
	r.Get("/api/stats", handlers.Stats(d))

	r.Get("/api/traffic/summary", handlers.TrafficSummary(d))
	r.Get("/api/traffic/{id}/current", handlers.TrafficCurrent(d))
	r.Get("/api/traffic/{id}/history", handlers.TrafficHistory(d))

	r.Get("/api/storage/summary", handlers.StorageSummary(d))
	r.Get("/api/storage/{id}/current", handlers.StorageCurrent(d))
	r.Get("/api/storage/{id}/history", handlers.StorageHistory(d))
}
