package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sandboxlabs/keygate/app"
)

// SetupRoutes configures all daemon routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Key lifecycle
		r.Route("/auth/keys", func(r chi.Router) {
			// Rotation deliveries authenticate by payload signature, not
			// bearer token, so the receiver endpoint sits outside RequireAuth.
			r.Post("/rotated", deps.KeysHandler.HandleRotatedDelivery)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAuth)
				r.Get("/", deps.KeysHandler.HandleListKeys)
				r.Get("/{id}", deps.KeysHandler.HandleGetKey)

				r.Group(func(r chi.Router) {
					r.Use(deps.AuthMiddleware.RequireAdmin)
					r.Post("/", deps.KeysHandler.HandleIssueKey)
					r.Delete("/{id}", deps.KeysHandler.HandleRevokeKey)
					r.Post("/rotate", deps.KeysHandler.HandleRotateKey)
				})
			})
		})

		// Audit ledger
		r.Route("/audit/events", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", deps.AuditHandler.HandleListEvents)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAdmin)
				r.Post("/", deps.AuditHandler.HandleRecordEvent)
			})
		})

		// Row policy management (admin only)
		r.Route("/rls/policies", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAdmin)
			r.Get("/", deps.PolicyHandler.HandleListPolicies)
			r.Put("/", deps.PolicyHandler.HandleUpsertPolicy)
		})

		// Namespace provisioning
		r.Route("/namespaces", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", deps.NSHandler.HandleListNamespaces)
			r.Get("/{code}", deps.NSHandler.HandleGetNamespace)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAdmin)
				r.Post("/", deps.NSHandler.HandleCreateNamespace)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
