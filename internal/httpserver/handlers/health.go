package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	redisconn "github.com/cyb3rgh05t/komandorr/internal/redis"
)

const storePingTimeout = 2 * time.Second

type liveness struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime_seconds"`
	Services int     `json:"services"`
	Build    build   `json:"build"`
}

type build struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

type readiness struct {
	Ready     bool    `json:"ready"`
	Redis     string  `json:"redis"`
	LatencyMs float64 `json:"latency_ms"`
}

// Healthz answers as long as the process is serving.
func Healthz(d deps.Deps) http.HandlerFunc {
	b := build{Version: d.Version, Commit: d.Commit, Date: d.BuildDate, GoVersion: d.GoVersion}
	return func(w http.ResponseWriter, r *http.Request) {
		body := liveness{
			Status: "ok",
			Uptime: time.Since(d.StartTime).Seconds(),
			Build:  b,
		}
		if d.Registry != nil {
			body.Services = d.Registry.Count()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// Readyz is 200 only while the durable store answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := redisconn.Check(r.Context(), d.RedisClient, storePingTimeout)

		status := http.StatusOK
		mode := "up"
		if !h.OK {
			status = http.StatusServiceUnavailable
			mode = "down"
		}
		writeJSON(w, status, readiness{
			Ready:     h.OK,
			Redis:     mode,
			LatencyMs: float64(h.Latency.Microseconds()) / 1000,
		})
	}
}

// storeStatus describes the durable store for the infra report.
func storeStatus(ctx context.Context, d deps.Deps) componentStatus {
	h := redisconn.Check(ctx, d.RedisClient, storePingTimeout)
	if !h.OK {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "persistence-disabled",
			Error:  h.Err.Error(),
		}
	}
	return componentStatus{
		OK:      true,
		Mode:    "optimal",
		Impact:  "persistence-enabled",
		Latency: h.Latency.Round(time.Microsecond).String(),
	}
}
