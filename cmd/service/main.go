package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/liutianyi617/weather-advisor/internal/app"
	"github.com/liutianyi617/weather-advisor/internal/cache"
	"github.com/liutianyi617/weather-advisor/internal/config"
	"github.com/liutianyi617/weather-advisor/internal/degraded"
	httphandler "github.com/liutianyi617/weather-advisor/internal/http"
	"github.com/liutianyi617/weather-advisor/internal/lifecycle"
	"github.com/liutianyi617/weather-advisor/internal/observability"
	"github.com/liutianyi617/weather-advisor/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	components := app.Build(cfg, logger)
	if missing := components.Dashboards.MissingCredentials(); len(missing) > 0 {
		logger.Warn("API keys not configured; dashboard will show a configuration error", zap.Strings("missing", missing))
	}

	clock := clockwork.NewRealClock()
	state := lifecycle.New(clock, cfg.ReadyDelay, cfg.MinimumLifespan)
	tracker := traffic.NewTracker(clock)

	healthConfig := healthConfigFor(cfg, components)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if len(cfg.Locations) > 0 {
		probeLocation := cfg.Locations[0]
		recoverer := degraded.NewRecoverer(degraded.Config{
			Probe: func(ctx context.Context) error {
				_, err := components.Client.Fetch(ctx, probeLocation)
				return err
			},
			Window:       tracker,
			Initial:      cfg.RecoveryInitialDelay,
			Max:          cfg.RecoveryMaxDelay,
			ProbeTimeout: cfg.ForecastAPITimeout,
			Clock:        clock,
			Logger:       logger,
		})
		recoverer.Start(runCtx)
		healthConfig.OnDegraded = recoverer.Notify
	}

	handler := httphandler.NewHandler(components.Dashboards, components.Locations, tracker, state, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        newLimiter(cfg),
	})

	if cfg.CacheWarmEnabled {
		startWarming(runCtx, cfg, components, logger)
	}

	srv := newServer(cfg, router)

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("advisory_provider", cfg.AdvisoryProvider),
			zap.Int("locations", len(cfg.Locations)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	cancelRun()

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := components.Close(); err != nil {
		logger.Error("memcached close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func healthConfigFor(cfg *config.Config, components *app.Components) httphandler.HealthConfig {
	hc := httphandler.HealthConfig{
		Window:                 cfg.HealthWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
	}
	if components.Memcached != nil {
		hc.CachePing = components.Memcached.Ping
	}
	return hc
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}

// newServer sets WriteTimeout past RequestTimeout so the timeout middleware
// can still write its 504 body.
func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}
}

// startWarming fills the cache for every configured location in the background,
// then refreshes it every CacheWarmInterval (default: the cache TTL).
func startWarming(ctx context.Context, cfg *config.Config, components *app.Components, logger *zap.Logger) {
	warmer := cache.NewCacheWarmer(components.Forecasts, logger)
	interval := cfg.CacheWarmInterval
	if interval <= 0 {
		interval = cfg.CacheTTL
	}
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.ForecastAPITimeout*2)
		if err := warmer.Warm(warmCtx, cfg.Locations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		cancel()
		if err := warmer.WarmPeriodic(ctx, cfg.Locations, interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}
