package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/handlers"
)

func init() { Register(registerCache) }

func registerCache(r chi.Router, d deps.Deps) {
	a := admin(r, d)
	a.Post("/api/cache/clear", handlers.CacheClear(d))
	a.Post("/api/cache/warm", handlers.CacheWarm(d))
	a.Get("/api/cache/stats", handlers.CacheStats(d))
	a.Method(http.MethodGet, "/internal/metrics", handlers.Metrics(d))
}
