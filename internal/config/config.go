package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	CWAAPIKey          string
	ForecastAPIURL     string
	ForecastDatastore  string
	ForecastAPITimeout time.Duration

	AdvisoryProvider     string // "gemini" or "openai"
	GeminiAPIKey         string
	GeminiAPIURL         string
	GeminiModel          string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	AdvisoryTimeout      time.Duration
	AdvisoryMaxAttempts  int
	AdvisoryInitialDelay time.Duration
	AdvisoryMaxDelay     time.Duration

	RequestTimeout time.Duration

	CacheTTL             time.Duration
	CacheBackend         string // "in_memory" or "memcached"
	CacheCoalesceTimeout time.Duration
	CacheWarmEnabled     bool
	CacheWarmInterval    time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RecoveryInitialDelay time.Duration
	RecoveryMaxDelay     time.Duration

	ShutdownTimeout time.Duration

	ReadyDelay             time.Duration
	HealthWindow           time.Duration
	DegradedErrorPct       int
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration

	Locations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL         string `yaml:"url"`
		DatastoreID string `yaml:"datastore_id"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"forecast_api"`

	AdvisoryAPI struct {
		Provider     string `yaml:"provider"`
		URL          string `yaml:"url"`
		Model        string `yaml:"model"`
		Timeout      string `yaml:"timeout"`
		MaxAttempts  int    `yaml:"max_attempts"`
		InitialDelay string `yaml:"initial_delay"`
		MaxDelay     string `yaml:"max_delay"`
	} `yaml:"advisory_api"`

	OpenAI struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Warm            struct {
			Enabled  bool   `yaml:"enabled"`
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Recovery struct {
			InitialDelay string `yaml:"initial_delay"`
			MaxDelay     string `yaml:"max_delay"`
		} `yaml:"recovery"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay             string `yaml:"ready_delay"`
		HealthWindow           string `yaml:"health_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
	} `yaml:"lifecycle"`

	Locations []string `yaml:"locations"`
}

type secretsFile struct {
	CWAAPIKey    string `yaml:"cwa_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFromDir(filepath.Join(cwd, "config"))
}

// LoadFromDir reads {ENV_NAME}.yaml and the optional secrets.yaml from dir.
// Missing API keys are not an error; they surface as a configuration message
// when the affected feature is used.
func LoadFromDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(dir, "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = stringOr(fc.Server.Port, "8080")

	cfg.CWAAPIKey = envOr("CWA_API_KEY", sec.CWAAPIKey)
	cfg.GeminiAPIKey = envOr("GEMINI_API_KEY", sec.GeminiAPIKey)
	cfg.OpenAIAPIKey = envOr("OPENAI_API_KEY", sec.OpenAIAPIKey)

	cfg.ForecastAPIURL = stringOr(fc.ForecastAPI.URL, "https://opendata.cwa.gov.tw/api/v1/rest/datastore")
	cfg.ForecastDatastore = stringOr(fc.ForecastAPI.DatastoreID, "F-C0032-001")
	cfg.ForecastAPITimeout = parseDurationOrZero(fc.ForecastAPI.Timeout, 10*time.Second)

	cfg.AdvisoryProvider = strings.ToLower(strings.TrimSpace(os.Getenv("ADVISORY_PROVIDER")))
	if cfg.AdvisoryProvider == "" {
		cfg.AdvisoryProvider = strings.ToLower(stringOr(fc.AdvisoryAPI.Provider, "gemini"))
	}
	cfg.GeminiAPIURL = stringOr(fc.AdvisoryAPI.URL, "https://generativelanguage.googleapis.com/v1beta")
	cfg.GeminiModel = stringOr(fc.AdvisoryAPI.Model, "gemini-2.5-flash-preview-09-2025")
	cfg.OpenAIBaseURL = strings.TrimSpace(fc.OpenAI.BaseURL)
	cfg.OpenAIModel = stringOr(fc.OpenAI.Model, "gpt-4o-mini")
	cfg.AdvisoryTimeout = parseDurationOrZero(fc.AdvisoryAPI.Timeout, 15*time.Second)
	cfg.AdvisoryMaxAttempts = fc.AdvisoryAPI.MaxAttempts
	if cfg.AdvisoryMaxAttempts <= 0 {
		cfg.AdvisoryMaxAttempts = 3
	}
	cfg.AdvisoryInitialDelay = parseDuration(fc.AdvisoryAPI.InitialDelay, 2*time.Second)
	cfg.AdvisoryMaxDelay = parseDurationOrZero(fc.AdvisoryAPI.MaxDelay, 0)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 90*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheCoalesceTimeout = parseDurationOrZero(fc.Cache.CoalesceTimeout, 0)
	cfg.CacheWarmEnabled = fc.Cache.Warm.Enabled
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = stringOr(fc.Cache.Memcached.Addrs, "localhost:11211")
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = intOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = intOr(cb.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.RecoveryInitialDelay = parseDurationOrZero(fc.Reliability.Recovery.InitialDelay, time.Minute)
	cfg.RecoveryMaxDelay = parseDuration(fc.Reliability.Recovery.MaxDelay, 13*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDurationOrZero(fc.Lifecycle.ReadyDelay, 0)
	cfg.HealthWindow = parseDuration(fc.Lifecycle.HealthWindow, 60*time.Second)
	cfg.DegradedErrorPct = intOr(fc.Lifecycle.DegradedErrorPct, 50)
	cfg.OverloadThresholdPct = intOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.IdleThresholdReqPerMin = intOr(fc.Lifecycle.IdleThresholdReqPerMin, 1)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)

	cfg.Locations = cleanLocations(fc.Locations)
	if len(cfg.Locations) == 0 {
		cfg.Locations = append([]string(nil), models.DefaultLocations...)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// AdvisoryBudget is the worst-case time of one advisory call: every attempt
// timing out plus the backoff sleeps between them.
func (c *Config) AdvisoryBudget() time.Duration {
	total := time.Duration(c.AdvisoryMaxAttempts) * c.AdvisoryTimeout
	delay := c.AdvisoryInitialDelay
	for i := 1; i < c.AdvisoryMaxAttempts; i++ {
		total += delay
		delay *= 2
		if c.AdvisoryMaxDelay > 0 && delay > c.AdvisoryMaxDelay {
			delay = c.AdvisoryMaxDelay
		}
	}
	return total
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func intOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func cleanLocations(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, loc := range in {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative values are returned as-is; "0s" disables optional features.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks enumerations and timeouts. RequestTimeout is raised to cover
// one forecast fetch plus a full advisory retry budget.
func validate(cfg *Config) error {
	if cfg.ForecastAPITimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.AdvisoryTimeout <= 0 {
		return fmt.Errorf("advisory_api.timeout must be positive")
	}
	if min := cfg.ForecastAPITimeout + cfg.AdvisoryBudget(); cfg.RequestTimeout <= min {
		cfg.RequestTimeout = min + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.AdvisoryProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("advisory_api.provider must be gemini or openai, got %q", cfg.AdvisoryProvider)
	}
	if cfg.CacheWarmInterval < 0 {
		return fmt.Errorf("cache.warm.interval must not be negative")
	}
	if cfg.RecoveryInitialDelay < 0 {
		return fmt.Errorf("reliability.recovery.initial_delay must not be negative")
	}
	if cfg.DegradedErrorPct > 100 || cfg.OverloadThresholdPct > 100 {
		return fmt.Errorf("lifecycle percentages must be at most 100")
	}
	return nil
}
