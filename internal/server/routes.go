package server

import (
	"log/slog"
	"net/http"
	"time"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// RateLimitPerMinute bounds render requests per client IP. Zero disables it.
	RateLimitPerMinute int
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 60,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Render endpoints share one per-IP budget.
	limited := RateLimitMiddleware(cfg.RateLimitPerMinute, time.Minute)

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /api/generate", limited(http.HandlerFunc(h.Generate)))
	mux.Handle("POST /api/generate", limited(http.HandlerFunc(h.GenerateJSON)))
	mux.Handle("GET /api/save", limited(http.HandlerFunc(h.Save)))
	mux.Handle("GET /api/video", limited(http.HandlerFunc(h.Video)))
	mux.HandleFunc("GET /assets/{name}", h.ServeAsset)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
