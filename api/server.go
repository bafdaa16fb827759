/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/domes/*          Dome catalog
  /api/resources/*      Resource catalog
  /api/inventory/*      Stock mutations (inbound, transfers, movements)
  /api/resource-logs    Ledger queries
  /api/summary          Dashboard aggregates
  /api/reset            Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Dome catalog
		r.Route("/domes", func(r chi.Router) {
			r.Get("/", h.ListDomes)
			r.Post("/", h.CreateDome)
			r.Get("/{id}", h.GetDome)
			r.Put("/{id}", h.UpdateDome)
			r.Delete("/{id}", h.DeleteDome)
			r.Get("/{id}/inventory", h.GetDomeInventory)
		})

		// Resource catalog
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Post("/", h.CreateResource)
			r.Get("/{id}", h.GetResource)
			r.Put("/{id}", h.UpdateResource)
			r.Delete("/{id}", h.DeleteResource)
		})

		// Stock reads and mutations
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{id}", h.GetDomeInventory)
			r.Post("/", h.UpsertInventory)
			r.Post("/inbound", h.ReceiveInbound)
			r.Post("/transfer", h.Transfer)
			r.Post("/movements", h.RecordMovement)
		})

		// Ledger
		r.Get("/resource-logs", h.ListLogs)

		// Dashboard aggregates
		r.Get("/summary", h.GetSummary)

		// Reset (dev only)
		r.Post("/reset", h.ResetDatabase)
	})

	// Root health/info page for anyone poking at the server directly
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Colony Resource Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Colony Resource Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/domes">/api/domes</a> - List domes</li>
<li><a href="/api/resources">/api/resources</a> - List resources</li>
<li><a href="/api/resource-logs">/api/resource-logs</a> - Movement ledger</li>
<li><a href="/api/summary">/api/summary</a> - Dashboard summary</li>
</ul>
</body>
</html>`))
	})

	return r
}
