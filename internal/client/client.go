package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/liutianyi617/weather-advisor/internal/circuitbreaker"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// ForecastClient fetches the raw forecast payload for a location.
type ForecastClient interface {
	Fetch(ctx context.Context, location string) (models.ForecastPayload, error)
}

const (
	DefaultAPIURL      = "https://opendata.cwa.gov.tw/api/v1/rest/datastore"
	DefaultDatastoreID = "F-C0032-001"
)

// CWAClient calls the Central Weather Administration open-data datastore API.
// Each Fetch is a single request; retries are left to the caller.
type CWAClient struct {
	apiKey      string
	apiURL      string
	datastoreID string
	timeout     time.Duration
	client      *http.Client
	breaker     *circuitbreaker.CircuitBreaker
}

// NewCWAClient builds a client. An empty apiKey is accepted here; Fetch reports it
// as models.ErrConfiguration so the missing credential reaches the user.
func NewCWAClient(apiKey, apiURL, datastoreID string, timeout time.Duration) *CWAClient {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if datastoreID == "" {
		datastoreID = DefaultDatastoreID
	}
	return &CWAClient{
		apiKey:      apiKey,
		apiURL:      strings.TrimRight(apiURL, "/"),
		datastoreID: datastoreID,
		timeout:     timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetCircuitBreaker guards Fetch with cb. Pass nil to disable.
func (c *CWAClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// HasCredential reports whether an API key is configured.
func (c *CWAClient) HasCredential() bool {
	return c.apiKey != ""
}

// Fetch returns the parsed payload for location. The credential is checked before
// any network activity.
func (c *CWAClient) Fetch(ctx context.Context, location string) (models.ForecastPayload, error) {
	if c.apiKey == "" {
		return models.ForecastPayload{}, fmt.Errorf("%w: CWA_API_KEY not set", models.ErrConfiguration)
	}
	if c.breaker == nil {
		return c.callAPI(ctx, location)
	}

	var payload models.ForecastPayload
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		payload, callErr = c.callAPI(ctx, location)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.ForecastPayload{}, fmt.Errorf("%w: %s: %v", models.ErrUpstream, c.breaker.Component(), err)
	}
	return payload, err
}

func (c *CWAClient) callAPI(ctx context.Context, location string) (models.ForecastPayload, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return models.ForecastPayload{}, fmt.Errorf("%w: build request: %v", models.ErrUpstream, err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastPayload{}, fmt.Errorf("%w: request timeout: %w", models.ErrUpstream, err)
		}
		return models.ForecastPayload{}, fmt.Errorf("%w: http request failed: %w", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.ForecastPayload{}, fmt.Errorf("%w: HTTP %d", models.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ForecastPayload{}, fmt.Errorf("%w: read response body: %v", models.ErrUpstream, err)
	}

	var payload models.ForecastPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.ForecastPayload{}, fmt.Errorf("%w: parse response: %v", models.ErrUpstream, err)
	}
	if payload.Success != "true" {
		msg := payload.Message
		if msg == "" {
			msg = "unknown error"
		}
		return models.ForecastPayload{}, fmt.Errorf("%w: provider reported failure: %s", models.ErrUpstream, msg)
	}
	return payload, nil
}

func (c *CWAClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL + "/" + url.PathEscape(c.datastoreID))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("Authorization", c.apiKey)
	params.Set("locationName", location)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
