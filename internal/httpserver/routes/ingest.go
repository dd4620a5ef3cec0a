package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/handlers"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/mw"
)

func init() { Register(registerIngest) }

func registerIngest(r chi.Router, d deps.Deps) {
	push := r.With(
		mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.IngestBurst,
			RefillPerIPPerMin: d.IngestRefillPerMin,
			MaxEntries:        4096,
			TrustProxy:        d.TrustProxy,
		}),
		mw.AgentToken(d.AgentToken, d.TrustProxy, d.Logger),
	)
	push.Post("/metrics/traffic", handlers.IngestTraffic(d))
	push.Post("/metrics/storage", handlers.IngestStorage(d))
	push.Post("/metrics/activity", handlers.IngestActivity(d))
}
