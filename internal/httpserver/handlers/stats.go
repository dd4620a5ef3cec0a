package handlers

import (
	"net/http"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
)

// Stats returns the last aggregate snapshot. It never computes; before the
// first rollup the body is {"cached":false}.
func Stats(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Aggregator.GetStats())
	}
}
