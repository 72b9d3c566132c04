package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/liutianyi617/weather-advisor/internal/lifecycle"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/service"
	"github.com/liutianyi617/weather-advisor/internal/traffic"
	"github.com/liutianyi617/weather-advisor/internal/validation"
)

type mockExtractor struct {
	forecast models.Forecast
	err      error
	noKey    bool
	calls    int
}

func (m *mockExtractor) Extract(ctx context.Context, location string) (models.Forecast, error) {
	m.calls++
	if m.err != nil {
		return models.Forecast{}, m.err
	}
	f := m.forecast
	f.Location = location
	return f, nil
}

func (m *mockExtractor) HasCredential() bool { return !m.noKey }

type mockAdvisor struct {
	advisory models.Advisory
	noKey    bool
	calls    int
}

func (m *mockAdvisor) Generate(ctx context.Context, summary string) models.Advisory {
	m.calls++
	return m.advisory
}

func (m *mockAdvisor) HasCredential() bool { return !m.noKey }
func (m *mockAdvisor) Provider() string    { return "gemini" }

var sampleSeries = []models.ChartPoint{
	{Time: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), Label: "06:00", Series: models.SeriesMinT, Value: 18},
	{Time: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), Label: "06:00", Series: models.SeriesMaxT, Value: 25},
	{Time: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC), Label: "18:00", Series: models.SeriesMinT, Value: 19},
	{Time: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC), Label: "18:00", Series: models.SeriesMaxT, Value: 26},
}

type fixture struct {
	extractor *mockExtractor
	advisor   *mockAdvisor
	tracker   *traffic.Tracker
	state     *lifecycle.State
	clock     *clockwork.FakeClock
	health    HealthConfig
	logger    *zap.Logger
}

func newFixture() *fixture {
	clock := clockwork.NewFakeClock()
	return &fixture{
		extractor: &mockExtractor{forecast: models.Forecast{Summary: "summary", Series: sampleSeries}},
		advisor:   &mockAdvisor{advisory: models.Advisory{Text: "今天天氣晴朗，記得多喝水。", Outcome: models.OutcomeGenerated, Attempts: 1}},
		tracker:   traffic.NewTracker(clock),
		state:     lifecycle.New(clock, 0, time.Hour),
		clock:     clock,
		logger:    zap.NewNop(),
	}
}

func (f *fixture) handler() *Handler {
	dashboards := service.NewDashboardService(f.extractor, f.advisor)
	locations := validation.NewLocations(models.DefaultLocations)
	return NewHandler(dashboards, locations, f.tracker, f.state, f.health, f.logger)
}

func (f *fixture) do(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(f.handler(), f.logger, RouterConfig{RequestTimeout: 5 * time.Second})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestListLocations(t *testing.T) {
	w := newFixture().do(t, "/api/locations")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Locations []string `json:"locations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Locations) != 20 || body.Locations[0] != "臺北市" {
		t.Errorf("locations = %v, want 20 entries starting with 臺北市", body.Locations)
	}
}

func TestGetForecast_Success(t *testing.T) {
	f := newFixture()
	w := f.do(t, "/api/forecast/臺北市")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got models.Forecast
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Location != "臺北市" || got.Summary != "summary" || len(got.Series) != 4 {
		t.Errorf("forecast = %+v", got)
	}
	if f.advisor.calls != 0 {
		t.Errorf("advisor calls = %d, want 0 for forecast endpoint", f.advisor.calls)
	}
}

func TestGetDashboard_Success(t *testing.T) {
	f := newFixture()
	w := f.do(t, "/api/dashboard/高雄市")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var got models.Dashboard
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Forecast.Location != "高雄市" {
		t.Errorf("location = %q, want 高雄市", got.Forecast.Location)
	}
	if got.Advisory.Outcome != models.OutcomeGenerated || got.Advisory.Text == "" {
		t.Errorf("advisory = %+v", got.Advisory)
	}
}

func TestGetDashboard_AdvisoryFailureIsStill200(t *testing.T) {
	f := newFixture()
	f.advisor.advisory = models.Advisory{Text: "❌ LLM 服務連線失敗或超時。", Outcome: models.OutcomeConnectionFailed, Attempts: 3}

	w := f.do(t, "/api/dashboard/臺北市")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection_failed") {
		t.Errorf("body = %s, want connection_failed outcome", w.Body.String())
	}
}

func TestHandlers_InvalidLocation(t *testing.T) {
	tests := []string{
		"/api/forecast/Seattle",
		"/api/dashboard/台北市",
		"/api/forecast/%20%20",
	}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			f := newFixture()
			w := f.do(t, path)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w)["code"]; got != "INVALID_LOCATION" {
				t.Errorf("code = %q, want INVALID_LOCATION", got)
			}
			if f.extractor.calls != 0 {
				t.Error("extractor called for invalid location")
			}
		})
	}
}

func TestHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"configuration", fmt.Errorf("fetch: %w", models.ErrConfiguration), http.StatusServiceUnavailable, "CONFIGURATION_ERROR"},
		{"upstream", fmt.Errorf("fetch: %w: HTTP 500", models.ErrUpstream), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"extraction", fmt.Errorf("extract: %w", models.ErrExtraction), http.StatusBadGateway, "EXTRACTION_FAILED"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.extractor.err = tt.err

			w := f.do(t, "/api/dashboard/臺北市")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if body["requestId"] == "" {
				t.Error("requestId missing from error body")
			}
			if f.advisor.calls != 0 {
				t.Error("advisor called after extraction failure")
			}
		})
	}
}

func TestGetDashboard_MissingCredentials(t *testing.T) {
	f := newFixture()
	f.advisor.noKey = true

	w := f.do(t, "/api/dashboard/臺北市")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decodeError(t, w)
	if body["code"] != "CONFIGURATION_ERROR" || !strings.Contains(body["message"], "GEMINI_API_KEY") {
		t.Errorf("error = %v", body)
	}
	if f.extractor.calls != 0 || f.advisor.calls != 0 {
		t.Error("pipeline ran despite missing credential")
	}
}

func healthStatus(t *testing.T, f *fixture) (int, string, map[string]string) {
	t.Helper()
	w := f.do(t, "/health")
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, body.Status, body.Checks
}

func TestGetHealth_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantCode   int
		wantStatus string
	}{
		{"healthy", func(f *fixture) {}, http.StatusOK, "healthy"},
		{"shutting down", func(f *fixture) { f.state.SetShuttingDown(true) }, http.StatusServiceUnavailable, "shutting-down"},
		{"starting", func(f *fixture) { f.state = lifecycle.New(f.clock, time.Minute, 0) }, http.StatusServiceUnavailable, "starting"},
		{"misconfigured", func(f *fixture) { f.extractor.noKey = true }, http.StatusServiceUnavailable, "misconfigured"},
		{"degraded by error rate", func(f *fixture) {
			f.health = HealthConfig{Window: time.Minute, DegradedErrorPct: 50}
			f.tracker.RecordError()
			f.tracker.RecordError()
			f.tracker.RecordSuccess()
		}, http.StatusServiceUnavailable, "degraded"},
		{"below error threshold", func(f *fixture) {
			f.health = HealthConfig{Window: time.Minute, DegradedErrorPct: 50}
			f.tracker.RecordError()
			f.tracker.RecordSuccess()
			f.tracker.RecordSuccess()
		}, http.StatusOK, "healthy"},
		{"overloaded", func(f *fixture) {
			f.health = HealthConfig{Window: time.Second, OverloadThresholdPct: 50, RateLimitRPS: 4}
			for i := 0; i < 3; i++ {
				f.tracker.RecordDenied()
			}
		}, http.StatusServiceUnavailable, "overloaded"},
		{"cache unreachable", func(f *fixture) {
			f.health = HealthConfig{CachePing: func() error { return fmt.Errorf("dial tcp: connection refused") }}
		}, http.StatusServiceUnavailable, "degraded"},
		{"idle", func(f *fixture) {
			f.health = HealthConfig{IdleThresholdReqPerMin: 1}
			f.clock.Advance(2 * time.Hour)
		}, http.StatusOK, "idle"},
		{"idle suppressed before minimum lifespan", func(f *fixture) {
			f.health = HealthConfig{IdleThresholdReqPerMin: 1}
		}, http.StatusOK, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			code, status, _ := healthStatus(t, f)
			if code != tt.wantCode || status != tt.wantStatus {
				t.Errorf("health = %d %q, want %d %q", code, status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestGetHealth_Checks(t *testing.T) {
	f := newFixture()
	f.advisor.noKey = true
	f.health = HealthConfig{CachePing: func() error { return nil }}

	_, _, checks := healthStatus(t, f)

	want := map[string]string{"forecastApi": "healthy", "advisoryApi": "unconfigured", "cache": "healthy"}
	for k, v := range want {
		if checks[k] != v {
			t.Errorf("checks[%s] = %q, want %q", k, checks[k], v)
		}
	}
}

func TestGetHealth_RateLimiterCheck(t *testing.T) {
	f := newFixture()
	f.health = HealthConfig{Window: time.Minute, RateLimitRPS: 100}

	_, _, checks := healthStatus(t, f)
	if checks["rateLimiter"] != "healthy" {
		t.Errorf("checks[rateLimiter] = %q, want healthy", checks["rateLimiter"])
	}

	f.tracker.RecordDenied()
	code, status, checks := healthStatus(t, f)
	if checks["rateLimiter"] != "throttling" {
		t.Errorf("checks[rateLimiter] = %q after denial, want throttling", checks["rateLimiter"])
	}
	if code != http.StatusOK || status != "healthy" {
		t.Errorf("health = %d %q, want 200 healthy below overload threshold", code, status)
	}

	f.clock.Advance(2 * time.Minute)
	_, _, checks = healthStatus(t, f)
	if checks["rateLimiter"] != "healthy" {
		t.Errorf("checks[rateLimiter] = %q after window, want healthy", checks["rateLimiter"])
	}
}

func TestGetHealth_NotifiesOnErrorRateBreach(t *testing.T) {
	notified := 0
	f := newFixture()
	f.health = HealthConfig{Window: time.Minute, DegradedErrorPct: 50, OnDegraded: func() { notified++ }}

	healthStatus(t, f)
	if notified != 0 {
		t.Fatalf("OnDegraded called %d times while healthy", notified)
	}
	f.tracker.RecordError()
	healthStatus(t, f)
	if notified != 1 {
		t.Errorf("OnDegraded called %d times, want 1", notified)
	}

	f.health.CachePing = func() error { return fmt.Errorf("unreachable") }
	f.tracker.Reset()
	_, status, _ := healthStatus(t, f)
	if status != "degraded" || notified != 1 {
		t.Errorf("cache-only degradation: status %q, notified %d; want degraded, 1", status, notified)
	}
}

func TestGetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture()
	f.logger = zap.New(core)
	h := f.handler()
	router := NewRouter(h, f.logger, RouterConfig{})

	get := func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	}
	get()
	f.state.SetShuttingDown(true)
	get()
	get()

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("transition fields = %v", fields)
	}
}

func TestRecordOutcome_FeedsTracker(t *testing.T) {
	f := newFixture()
	f.do(t, "/api/forecast/臺北市")
	f.extractor.err = fmt.Errorf("%w: HTTP 500", models.ErrUpstream)
	f.do(t, "/api/forecast/臺北市")
	f.extractor.err = fmt.Errorf("%w: no key", models.ErrConfiguration)
	f.do(t, "/api/forecast/臺北市")

	errs, total := f.tracker.ErrorRate(time.Minute)
	if errs != 1 || total != 2 {
		t.Errorf("ErrorRate = (%d, %d), want (1, 2); configuration errors are not counted", errs, total)
	}
}
