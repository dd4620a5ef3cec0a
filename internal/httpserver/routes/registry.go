// Package routes mounts every endpoint group on the router. Each file
// registers its group from init, and the server mounts them all at once.
package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/mw"
)

// Group mounts a set of related routes.
type Group func(r chi.Router, d deps.Deps)

var groups []Group

// Register adds g to the groups mounted by RegisterAll.
func Register(g Group) {
	groups = append(groups, g)
}

// RegisterAll mounts every registered group on r.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		g(r, d)
	}
}

// admin restricts routes to the configured networks and hosts.
func admin(r chi.Router, d deps.Deps) chi.Router {
	return r.With(
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.EnforceHost(d.AllowedHosts, d.Logger),
	)
}
