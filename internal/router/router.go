package router

import (
	"net/http"

	"iap-entitlement-api/internal/handler"
	"iap-entitlement-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	BillingHandler  *handler.BillingHandler
	CallbackHandler *handler.CallbackHandler
	SandboxHandler  *handler.SandboxHandler
	AdminHandler    *handler.AdminHandler
	LogHandler      *handler.LogHandler
	AuthMiddleware  func(http.Handler) http.Handler
	CORSOrigins     []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.AuthMiddleware != nil {
		r.Use(cfg.AuthMiddleware)
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health check endpoints
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.BillingHandler != nil {
			r.Route("/billing", func(r chi.Router) {
				r.Get("/state", cfg.BillingHandler.State)
				r.Post("/initialize", cfg.BillingHandler.Initialize)
				r.Post("/debug", cfg.BillingHandler.SetDebug)
				r.Get("/purchases", cfg.BillingHandler.GetPurchases)
				r.Get("/products", cfg.BillingHandler.GetProducts)
				r.Post("/products/details", cfg.BillingHandler.GetProductDetails)
				r.Post("/buy", cfg.BillingHandler.Buy)
				r.Post("/subscribe", cfg.BillingHandler.Subscribe)
				r.Post("/consume", cfg.BillingHandler.Consume)
				r.Post("/activity-result", cfg.BillingHandler.ActivityResult)
				r.Post("/teardown", cfg.BillingHandler.Teardown)
			})
		}

		if cfg.CallbackHandler != nil {
			r.Get("/callbacks/{callback_id}", cfg.CallbackHandler.Get)
		}

		// Sandbox decisions, only mounted when the sandbox backend is in use
		if cfg.SandboxHandler != nil {
			r.Route("/sandbox", func(r chi.Router) {
				r.Get("/flows", cfg.SandboxHandler.ListFlows)
				r.Post("/flows/{marker}/approve", cfg.SandboxHandler.Approve)
				r.Post("/flows/{marker}/cancel", cfg.SandboxHandler.Cancel)
				r.Put("/products", cfg.SandboxHandler.PutProducts)
			})
		}

		r.Route("/admin", func(r chi.Router) {
			if cfg.AdminHandler != nil {
				r.Get("/stats", cfg.AdminHandler.GetStats)
			}
			if cfg.LogHandler != nil {
				r.Get("/notifications", cfg.LogHandler.GetNotifications)
			}
		})
	})

	return r
}
