package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// RouterConfig holds per-route middleware settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter throttles forecast and dashboard routes. Nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter wires handlers and middleware. /health and /metrics bypass the
// rate limiter and request timeout.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	limited := router.NewRoute().Subrouter()
	limited.Use(RateLimitMiddleware(cfg.Limiter, h.traffic))
	if cfg.RequestTimeout > 0 {
		limited.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	limited.HandleFunc("/", h.Index).Methods(http.MethodGet)
	limited.HandleFunc("/api/locations", h.ListLocations).Methods(http.MethodGet)
	limited.HandleFunc("/api/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	limited.HandleFunc("/api/dashboard/{location}", h.GetDashboard).Methods(http.MethodGet)
	return router
}
