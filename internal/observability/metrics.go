package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate by route template and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Dashboard requests include the advisory call and its retry sleeps.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// CWA forecast API calls. One per cache miss; no retries at this layer.
	ForecastAPICallsTotal *prometheus.CounterVec

	ForecastAPIDuration *prometheus.HistogramVec

	// LLM calls per attempt, labelled by provider and status.
	AdvisoryAPICallsTotal *prometheus.CounterVec

	AdvisoryAPIDuration *prometheus.HistogramVec

	// Attempts beyond the first. Watch for: sustained retries = unstable LLM endpoint.
	AdvisoryRetriesTotal prometheus.Counter

	// Final advisory outcome (generated, credential_missing, connection_failed, parse_failed).
	AdvisoryOutcomesTotal *prometheus.CounterVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Cache backend failures by operation (get/set). The request still proceeds.
	CacheErrorsTotal *prometheus.CounterVec

	// Concurrent misses for the same location; redundant fetches are allowed, this only counts them.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	ExtractionErrorsTotal prometheus.Counter

	// Failed forecast extractions by error category (timeout, network, upstream, ...).
	ForecastErrorsTotal *prometheus.CounterVec

	// Dashboard lookups per location. Locations come from a fixed list; anything else is "other".
	QueriesByLocationTotal *prometheus.CounterVec

	RateLimitDeniedTotal prometheus.Counter

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// In-flight requests remaining when shutdown begins.
	ShutdownInFlightRequests prometheus.Gauge

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forecastApiCallsTotal", Help: "Total number of CWA forecast API calls"},
		[]string{"status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "CWA forecast API latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	AdvisoryAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "advisoryApiCallsTotal", Help: "Total number of LLM attempts"},
		[]string{"provider", "status"},
	)
	AdvisoryAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisoryApiDurationSeconds",
			Help:    "LLM call latency in seconds (per attempt)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"provider", "status"},
	)
	AdvisoryRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "advisoryRetriesTotal", Help: "Total number of LLM retry attempts"},
	)
	AdvisoryOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "advisoryOutcomesTotal", Help: "Advisory requests by final outcome"},
		[]string{"outcome"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Total number of forecast cache hits"},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheMissesTotal", Help: "Total number of forecast cache misses (including expired entries)"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors by operation"},
		[]string{"operation"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Cache misses that overlapped another miss for the same location"},
		[]string{"location"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingTotal", Help: "Total number of cache warming runs"},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingErrorsTotal", Help: "Cache warming runs with at least one failed location"},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	ExtractionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "extractionErrorsTotal", Help: "Forecast payloads that could not be reshaped"},
	)
	ForecastErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forecastErrorsTotal", Help: "Failed forecast extractions by error category"},
		[]string{"category"},
	)
	QueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queriesByLocationTotal", Help: "Dashboard queries by location (allow-list; others use location=other)"},
		[]string{"location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)"},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "shutdownInFlightRequests", Help: "In-flight requests when graceful shutdown started"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration,
		AdvisoryAPICallsTotal, AdvisoryAPIDuration, AdvisoryRetriesTotal, AdvisoryOutcomesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheStampedeDetectedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ExtractionErrorsTotal, ForecastErrorsTotal, QueriesByLocationTotal, RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitions, ShutdownInFlightRequests,
	)
}

// SetTrackedLocations sets the allow-list for location labels.
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[strings.TrimSpace(loc)] = struct{}{}
	}
}

// MetricLocationLabel returns location if it is tracked, otherwise "other".
func MetricLocationLabel(location string) string {
	loc := strings.TrimSpace(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordQuery counts a dashboard or forecast lookup for location.
func RecordQuery(location string) {
	QueriesByLocationTotal.WithLabelValues(MetricLocationLabel(location)).Inc()
}

// RecordCircuitBreakerTransition updates the breaker gauge and transition counter.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records how many requests were still running at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
