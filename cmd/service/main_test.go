package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/liutianyi617/weather-advisor/internal/app"
	"github.com/liutianyi617/weather-advisor/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:             "9090",
		RequestTimeout:         40 * time.Second,
		CacheBackend:           "in_memory",
		AdvisoryProvider:       "gemini",
		AdvisoryMaxAttempts:    3,
		HealthWindow:           time.Minute,
		DegradedErrorPct:       50,
		OverloadThresholdPct:   80,
		RateLimitRPS:           20,
		RateLimitBurst:         50,
		IdleThresholdReqPerMin: 1,
		Locations:              []string{"臺北市"},
	}
}

func TestNewServer_WriteTimeoutExceedsRequestTimeout(t *testing.T) {
	cfg := testConfig()
	srv := newServer(cfg, http.NotFoundHandler())
	if srv.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", srv.Addr)
	}
	if srv.WriteTimeout <= cfg.RequestTimeout {
		t.Errorf("WriteTimeout = %v, want > %v", srv.WriteTimeout, cfg.RequestTimeout)
	}
}

func TestNewLimiter(t *testing.T) {
	cfg := testConfig()
	l := newLimiter(cfg)
	if l == nil || l.Burst() != 50 {
		t.Fatalf("limiter = %v, want burst 50", l)
	}
	cfg.RateLimitRPS = 0
	if newLimiter(cfg) != nil {
		t.Error("limiter should be nil when rate_limit_rps is 0")
	}
}

func TestHealthConfigFor(t *testing.T) {
	cfg := testConfig()
	hc := healthConfigFor(cfg, app.Build(cfg, nil))
	if hc.Window != time.Minute || hc.DegradedErrorPct != 50 || hc.RateLimitRPS != 20 {
		t.Errorf("health config = %+v", hc)
	}
	if hc.CachePing != nil {
		t.Error("CachePing should be nil for the in-memory backend")
	}

	cfg.CacheBackend = "memcached"
	cfg.MemcachedAddrs = "127.0.0.1:1"
	cfg.MemcachedTimeout = 50 * time.Millisecond
	c := app.Build(cfg, nil)
	defer c.Close()
	if healthConfigFor(cfg, c).CachePing == nil {
		t.Error("CachePing should be set for the memcached backend")
	}
}
