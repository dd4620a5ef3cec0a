package handlers

import (
	"net/http"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
)

// Metrics serves the Prometheus exposition.
func Metrics(d deps.Deps) http.Handler {
	if d.Metrics == nil {
		return http.NotFoundHandler()
	}
	return d.Metrics.Handler()
}
