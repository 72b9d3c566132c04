// Package app builds the forecast and advisory pipeline from configuration.
// The HTTP service and the CLI share it.
package app

import (
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/advisory"
	"github.com/liutianyi617/weather-advisor/internal/cache"
	"github.com/liutianyi617/weather-advisor/internal/circuitbreaker"
	"github.com/liutianyi617/weather-advisor/internal/client"
	"github.com/liutianyi617/weather-advisor/internal/config"
	"github.com/liutianyi617/weather-advisor/internal/observability"
	"github.com/liutianyi617/weather-advisor/internal/service"
	"github.com/liutianyi617/weather-advisor/internal/validation"
)

// Components is the wired pipeline.
type Components struct {
	// Client is the uncached forecast client, used for recovery probes.
	Client     client.ForecastClient
	Forecasts  *service.ForecastService
	Advisor    advisory.Advisor
	Dashboards *service.DashboardService
	Locations  *validation.Locations
	// Memcached is set only when the memcached backend is selected.
	Memcached *cache.MemcachedCache
}

// Build wires clients, cache and services. It never fails on missing
// credentials; those are reported when the pipeline runs.
func Build(cfg *config.Config, logger *zap.Logger) *Components {
	if logger == nil {
		logger = zap.NewNop()
	}

	forecastClient := client.NewCWAClient(cfg.CWAAPIKey, cfg.ForecastAPIURL, cfg.ForecastDatastore, cfg.ForecastAPITimeout)
	if cfg.CircuitBreakerEnabled {
		const component = "forecast_api"
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        component,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(component).Set(0)
		forecastClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	c := &Components{Client: forecastClient, Locations: validation.NewLocations(cfg.Locations)}

	var store cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		c.Memcached = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		store = c.Memcached
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	c.Forecasts = service.NewForecastService(forecastClient, store, service.Options{
		TTL:             cfg.CacheTTL,
		CoalesceTimeout: cfg.CacheCoalesceTimeout,
	})
	c.Advisor = NewAdvisor(cfg, logger)
	c.Dashboards = service.NewDashboardService(c.Forecasts, c.Advisor)

	observability.SetTrackedLocations(cfg.Locations)
	return c
}

// NewAdvisor returns the advisory client for cfg.AdvisoryProvider.
func NewAdvisor(cfg *config.Config, logger *zap.Logger) advisory.Advisor {
	retry := advisory.RetryPolicy{
		MaxAttempts:  cfg.AdvisoryMaxAttempts,
		InitialDelay: cfg.AdvisoryInitialDelay,
		MaxDelay:     cfg.AdvisoryMaxDelay,
	}
	if cfg.AdvisoryProvider == "openai" {
		return advisory.NewOpenAIClient(advisory.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.AdvisoryTimeout,
			Retry:   retry,
			Logger:  logger,
		})
	}
	return advisory.NewGeminiClient(advisory.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		APIURL:  cfg.GeminiAPIURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.AdvisoryTimeout,
		Retry:   retry,
		Logger:  logger,
	})
}

// Close releases the memcached connections, if any.
func (c *Components) Close() error {
	if c.Memcached != nil {
		return c.Memcached.Close()
	}
	return nil
}
