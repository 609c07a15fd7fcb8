package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/keywheel/keywheel/internal/observability"
	"github.com/keywheel/keywheel/internal/server/handlers"
	servermw "github.com/keywheel/keywheel/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Standard health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	s.registerKeyEndpoint()

	// Admin signal endpoint (optional, requires an admin token)
	s.registerAdminEndpoint()
}

// keyCORS allows any origin to call the credential endpoint. OPTIONS is passed
// through so the handler answers every preflight with a bare 200.
func keyCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		OptionsPassthrough: true,
	})
}

// registerKeyEndpoint mounts the credential endpoint for every method; the
// handler itself dispatches by method and action.
func (s *Server) registerKeyEndpoint() {
	if s.keys == nil {
		return
	}

	path := s.keys.BasePath()
	servermw.SetAPIPath(path)
	s.router.With(keyCORS()).Handle(path, s.keys)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Credential endpoint mounted",
			zap.String("path", path))
	}
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger

	if s.adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token configured)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
