// Package service holds the cached forecast extraction and the dashboard
// pipeline that feeds its summary to the advisory client.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/cache"
	"github.com/liutianyi617/weather-advisor/internal/client"
	"github.com/liutianyi617/weather-advisor/internal/extract"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

const DefaultTTL = time.Hour

// Options configures ForecastService. Zero values take defaults.
type Options struct {
	// TTL is how long a successful extraction is served from cache (default 1h).
	TTL time.Duration
	// Zone is used for chart labels (default Asia/Taipei, UTC+8).
	Zone *time.Location
	// CoalesceTimeout enables request coalescing when positive.
	CoalesceTimeout time.Duration
	Clock           clockwork.Clock
}

// ForecastService extracts forecasts cache-aside: a non-expired entry is served
// without calling the provider, a miss fetches, reshapes and stores.
type ForecastService struct {
	client    client.ForecastClient
	cache     cache.Cache
	ttl       time.Duration
	zone      *time.Location
	clock     clockwork.Clock
	stampede  *stampedeTracker
	coalescer *requestCoalescer // nil when disabled
}

// TaipeiZone is the fixed UTC+8 zone the provider's timestamps are written in.
var TaipeiZone = time.FixedZone("CST", 8*60*60)

func NewForecastService(fc client.ForecastClient, c cache.Cache, opts Options) *ForecastService {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Zone == nil {
		opts.Zone = TaipeiZone
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	var coalescer *requestCoalescer
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &ForecastService{
		client:    fc,
		cache:     c,
		ttl:       opts.TTL,
		zone:      opts.Zone,
		clock:     opts.Clock,
		stampede:  newStampedeTracker(),
		coalescer: coalescer,
	}
}

// HasCredential reports whether the forecast client has an API key. Clients
// that do not expose one are assumed configured.
func (s *ForecastService) HasCredential() bool {
	if cc, ok := s.client.(interface{ HasCredential() bool }); ok {
		return cc.HasCredential()
	}
	return true
}

// Extract returns the summary and chart series for location.
func (s *ForecastService) Extract(ctx context.Context, location string) (models.Forecast, error) {
	key := strings.TrimSpace(location)
	start := s.clock.Now()
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("location", key))

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.Inc()
		logger.Debug("forecast served", zap.Bool("cached", true))
		return cached, nil
	}
	observability.CacheMissesTotal.Inc()

	if n := s.stampede.Begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricLocationLabel(key)).Inc()
	}
	defer s.stampede.End(key)

	var forecast models.Forecast
	if s.coalescer != nil {
		forecast, err = s.coalescer.Do(ctx, key, func(fetchCtx context.Context) (models.Forecast, error) {
			return s.fetch(fetchCtx, key)
		})
	} else {
		forecast, err = s.fetch(ctx, key)
	}
	if err != nil {
		if errors.Is(err, models.ErrExtraction) {
			observability.ExtractionErrorsTotal.Inc()
		}
		category := client.CategorizeError(err)
		observability.ForecastErrorsTotal.WithLabelValues(string(category)).Inc()
		logger.Warn("forecast extraction failed", zap.String("category", string(category)), zap.Error(err))
		return models.Forecast{}, err
	}

	if err := s.cache.Set(ctx, key, forecast, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.Error(err))
	}
	logger.Debug("forecast served", zap.Bool("cached", false), zap.Duration("duration", s.clock.Since(start)))
	return forecast, nil
}

func (s *ForecastService) fetch(ctx context.Context, location string) (models.Forecast, error) {
	payload, err := s.client.Fetch(ctx, location)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("fetch forecast for %s: %w", location, err)
	}
	result, err := extract.Extract(location, payload, s.zone)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("extract forecast for %s: %w", location, err)
	}
	return models.Forecast{
		Location:  location,
		Summary:   result.Summary,
		Series:    result.Series,
		FetchedAt: s.clock.Now(),
	}, nil
}
