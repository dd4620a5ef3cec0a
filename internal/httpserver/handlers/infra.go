package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	ServicesLoaded *int   `json:"services_loaded,omitempty"`
	LastRun        string `json:"last_run,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Impact         string `json:"impact,omitempty"`
	Latency        string `json:"latency,omitempty"`
	Error          string `json:"error,omitempty"`
}

type infraResponse struct {
	EngineMode string                     `json:"engine_mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the health of each engine component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servicesCount := d.Registry.Count()

		components := map[string]componentStatus{
			"registry": {
				OK:             servicesCount > 0,
				ServicesLoaded: &servicesCount,
			},
			"redis":      storeStatus(r.Context(), d),
			"prober":     proberStatus(d),
			"aggregator": aggregatorStatus(d),
		}

		response := infraResponse{
			EngineMode: determineEngineMode(components),
			Components: components,
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func determineEngineMode(components map[string]componentStatus) string {
	// Nothing to monitor
	if registry, exists := components["registry"]; exists && !registry.OK {
		return "idle"
	}

	// Redis down = history and status changes are not persisted
	if redis, exists := components["redis"]; exists && !redis.OK {
		return "degraded"
	}

	if prober, exists := components["prober"]; exists && !prober.OK {
		return "starting"
	}

	return "monitoring"
}

func proberStatus(d deps.Deps) componentStatus {
	sweep := d.Prober.LastSweep()
	if sweep == nil {
		return componentStatus{OK: false, LastRun: "never"}
	}
	return componentStatus{
		OK:      true,
		LastRun: sweep.Finished.Format("2006-01-02 15:04:05"),
		Mode:    fmt.Sprintf("%d checked in %s", sweep.Checked, sweep.Duration.Round(time.Millisecond)),
	}
}

func aggregatorStatus(d deps.Deps) componentStatus {
	last := d.Aggregator.LastComputed()
	if last.IsZero() {
		return componentStatus{OK: false, LastRun: "never", Impact: "stats-not-cached"}
	}
	return componentStatus{OK: true, LastRun: last.Format("2006-01-02 15:04:05")}
}
