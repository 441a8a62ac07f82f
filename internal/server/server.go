// Package server is the headless HTTP + WebSocket control surface for the
// pricing engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oscarmtz/pricebot/internal/server/handler"
	"github.com/oscarmtz/pricebot/internal/server/middleware"
	"github.com/oscarmtz/pricebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Products    *handler.ProductHandler
	Pricing     *handler.PricingHandler
	Experiments *handler.ExperimentHandler
	Audit       *handler.AuditHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, unauthenticated through the same chain.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Catalog.
	mux.HandleFunc("GET /api/products", handlers.Products.ListProducts)
	mux.HandleFunc("POST /api/products", handlers.Products.UpsertProduct)
	mux.HandleFunc("GET /api/products/{id}", handlers.Products.GetProduct)
	mux.HandleFunc("DELETE /api/products/{id}", handlers.Products.DelistProduct)

	// Competitor observations.
	mux.HandleFunc("POST /api/products/{id}/observations", handlers.Products.RecordObservation)
	mux.HandleFunc("GET /api/products/{id}/observations", handlers.Products.ListObservations)
	mux.HandleFunc("GET /api/products/{id}/snapshot", handlers.Products.GetSnapshot)

	// Pricing.
	mux.HandleFunc("POST /api/products/{id}/propose", handlers.Pricing.ProposeProduct)
	mux.HandleFunc("GET /api/products/{id}/proposals", handlers.Pricing.ListProposals)
	mux.HandleFunc("GET /api/products/{id}/proposals/latest", handlers.Pricing.LatestProposal)
	mux.HandleFunc("POST /api/pricing/cycle", handlers.Pricing.TriggerCycle)

	// Experiments and outcomes.
	mux.HandleFunc("GET /api/experiments", handlers.Experiments.ListExperiments)
	mux.HandleFunc("GET /api/experiments/{id}", handlers.Experiments.GetExperiment)
	mux.HandleFunc("POST /api/experiments/{id}/abort", handlers.Experiments.AbortExperiment)
	mux.HandleFunc("POST /api/outcomes", handlers.Experiments.IngestOutcome)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins; no configured
// origins allows all.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
