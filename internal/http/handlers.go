package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/client"
	"github.com/liutianyi617/weather-advisor/internal/lifecycle"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
	"github.com/liutianyi617/weather-advisor/internal/service"
	"github.com/liutianyi617/weather-advisor/internal/traffic"
	"github.com/liutianyi617/weather-advisor/internal/validation"
)

// HealthConfig holds thresholds for the health handler. Zero values disable
// the corresponding check.
type HealthConfig struct {
	Window                 time.Duration
	DegradedErrorPct       int
	OverloadThresholdPct   int
	RateLimitRPS           int
	IdleThresholdReqPerMin int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// OnDegraded, when set, is called each time /health reports an error-rate breach.
	OnDegraded func()
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboards *service.DashboardService
	locations  *validation.Locations
	traffic    *traffic.Tracker
	state      *lifecycle.State
	health     HealthConfig
	logger     *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(
	dashboards *service.DashboardService,
	locations *validation.Locations,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	health HealthConfig,
	logger *zap.Logger,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(nil)
	}
	if state == nil {
		state = lifecycle.New(nil, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dashboards: dashboards,
		locations:  locations,
		traffic:    tracker,
		state:      state,
		health:     health,
		logger:     logger,
	}
}

// ListLocations handles GET /api/locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": h.locations.List(),
	})
}

// GetForecast handles GET /api/forecast/{location}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, ok := h.validLocation(w, r)
	if !ok {
		return
	}
	forecast, err := h.dashboards.Forecast(r.Context(), location)
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// GetDashboard handles GET /api/dashboard/{location}: forecast plus advisory.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	location, ok := h.validLocation(w, r)
	if !ok {
		return
	}
	dashboard, err := h.dashboards.Dashboard(r.Context(), location)
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) validLocation(w http.ResponseWriter, r *http.Request) (string, bool) {
	location, err := h.locations.Validate(mux.Vars(r)["location"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", false
	}
	return location, true
}

// recordOutcome feeds the degraded check. Configuration errors are not
// provider failures and are left out.
func (h *Handler) recordOutcome(err error) {
	switch {
	case err == nil:
		h.traffic.RecordSuccess()
	case errors.Is(err, models.ErrConfiguration):
	default:
		h.traffic.RecordError()
	}
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	if result.reason == "error_rate_breach" && h.health.OnDegraded != nil {
		h.health.OnDegraded()
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-advisor",
		"version":   "dev",
		"checks":    checks,
		"uptime":    h.state.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > misconfigured > overloaded > degraded > idle > healthy.
func (h *Handler) computeHealthStatus() (healthResult, map[string]string) {
	checks := map[string]string{
		"forecastApi": "healthy",
		"advisoryApi": "healthy",
	}
	missing := h.dashboards.MissingCredentials()
	for _, key := range missing {
		if key == "CWA_API_KEY" {
			checks["forecastApi"] = "unconfigured"
		} else {
			checks["advisoryApi"] = "unconfigured"
		}
	}
	cacheHealthy := true
	if h.health.CachePing != nil {
		cacheHealthy = h.health.CachePing() == nil
		if cacheHealthy {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.health.Window > 0 && h.health.RateLimitRPS > 0 {
		checks["rateLimiter"] = "healthy"
		if h.traffic.DenialCount(h.health.Window) > 0 {
			checks["rateLimiter"] = "throttling"
		}
	}

	if h.state.ShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if !h.state.Ready() {
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay"}, checks
	}
	if len(missing) > 0 {
		return healthResult{"misconfigured", http.StatusServiceUnavailable, "credentials_missing"}, checks
	}

	window := h.health.Window
	if window > 0 && h.health.OverloadThresholdPct > 0 && h.health.RateLimitRPS > 0 {
		capacity := float64(h.health.RateLimitRPS) * window.Seconds()
		if float64(h.traffic.RequestCount(window)) > capacity*float64(h.health.OverloadThresholdPct)/100 {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}, checks
		}
	}
	if window > 0 && h.health.DegradedErrorPct > 0 {
		errs, total := h.traffic.ErrorRate(window)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.health.DegradedErrorPct) {
			checks["forecastApi"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}, checks
		}
	}
	if !cacheHealthy {
		return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable"}, checks
	}
	if h.health.IdleThresholdReqPerMin > 0 && h.state.PastMinimumLifespan() {
		if h.traffic.RequestCount(time.Minute) < h.health.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}, checks
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// errorResponse maps a service error to status, code and message.
func errorResponse(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusServiceUnavailable, "CONFIGURATION_ERROR", err.Error()
	case errors.Is(err, models.ErrExtraction):
		return http.StatusBadGateway, "EXTRACTION_FAILED", "Forecast data could not be processed"
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error"
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorResponse(err)
	writeError(w, r, status, code, message)
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("request failed",
			zap.String("code", code),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
	}
}
