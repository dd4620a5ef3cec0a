package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/handlers"
)

func init() { Register(registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	r.Get("/api/services", handlers.ListServices(d))
	r.Get("/api/services/{id}", handlers.GetService(d))
	r.Get("/api/services/{id}/response-history", handlers.ResponseHistory(d))

	a := admin(r, d)
	a.Post("/api/services", handlers.CreateService(d))
	a.Put("/api/services/{id}", handlers.UpdateService(d))
	a.Delete("/api/services/{id}", handlers.DeleteService(d))
	a.Post("/api/services/{id}/check", handlers.CheckService(d))
	a.Post("/api/services/check-all", handlers.CheckAll(d))
	a.Post("/api/services/import", handlers.ImportServices(d))
}
