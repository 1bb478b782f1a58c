/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin dashboards

ROUTE GROUPS:
  /api/products/*    Catalog and stock management
  /api/accounts/*    Balances, ledger, admin adjustments
  /api/purchase      Purchase execution
  /api/identities    Identity linking
  /api/world         Trading-world record
  /api/stats         Admin statistics
  /donate            Deposit webhook (outside /api: called by the in-world
                     listener, not by dashboard clients)

SECURITY NOTE:
  No authentication middleware. Deploy behind a gateway that authenticates
  the admin surface; the donate webhook should be reachable only from the
  listener host.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/shopd/main.go: Server startup
*/
package api

import (
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
		// Catalog routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{code}", h.GetProduct)
			r.Put("/{code}", h.UpdateProduct)
			r.Delete("/{code}", h.DeleteProduct)
			r.Post("/{code}/stock", h.IngestStock)
			r.Get("/{code}/stock", h.StockHistory)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{growid}/balance", h.GetBalance)
			r.Get("/{growid}/ledger", h.GetLedger)
			r.Post("/{growid}/adjust", h.AdjustBalance)
			r.Post("/{growid}/reset", h.ResetBalance)
		})

		// Trading routes
		r.Post("/purchase", h.Purchase)
		r.Post("/identities", h.LinkIdentity)

		r.Route("/world", func(r chi.Router) {
			r.Get("/", h.GetWorld)
			r.Put("/", h.SetWorld)
		})

		r.Get("/stats", h.GetStats)
	})

	// Webhook for the in-world deposit listener
	r.Post("/donate", h.Donate)

	return r
}
