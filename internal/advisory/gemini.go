package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

const (
	DefaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel = "gemini-2.5-flash-preview-09-2025"
)

// GeminiConfig configures GeminiClient. Empty fields take defaults.
type GeminiConfig struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
	Sleep   SleepFunc
	Logger  *zap.Logger
}

// GeminiClient calls the Gemini generateContent endpoint.
type GeminiClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
	retrier  *retrier
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGeminiURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(cfg.APIURL, "/"), cfg.Model),
		client:   &http.Client{Timeout: cfg.Timeout},
		retrier:  newRetrier("gemini", cfg.Retry, cfg.Sleep, cfg.Logger),
	}
}

func (c *GeminiClient) HasCredential() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) Provider() string { return "gemini" }

// Generate returns the first candidate's text for summary. A missing key
// short-circuits with no network call.
func (c *GeminiClient) Generate(ctx context.Context, summary string) models.Advisory {
	if c.apiKey == "" {
		return credentialMissing(MessageCredentialMissing)
	}
	body, err := json.Marshal(newGenerateRequest(summary))
	if err != nil {
		return finish(models.OutcomeParseFailed, MessageParseFailed, 0)
	}
	return c.retrier.run(ctx, func(ctx context.Context) (string, error) {
		return c.callOnce(ctx, body)
	})
}

type textPart struct {
	Text string `json:"text"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction content   `json:"systemInstruction"`
}

// responsePart leaves Text nil when the part carries no text field.
type responsePart struct {
	Text *string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []responsePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func newGenerateRequest(summary string) generateRequest {
	return generateRequest{
		Contents:          []content{{Parts: []textPart{{Text: summary}}}},
		SystemInstruction: content{Parts: []textPart{{Text: Persona}}},
	}
}

func (c *GeminiClient) callOnce(ctx context.Context, body []byte) (string, error) {
	u := c.endpoint + "?" + url.Values{"key": {c.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", models.ErrAdvisoryTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if corrID, ok := ctx.Value("correlation_id").(string); ok && corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrAdvisoryTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: HTTP %d", models.ErrAdvisoryTransport, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", models.ErrAdvisoryTransport, err)
	}
	return parseGenerateResponse(raw)
}

func parseGenerateResponse(raw []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAdvisoryParse, err)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", models.ErrAdvisoryParse)
	}
	first := out.Candidates[0].Content
	if first == nil || len(first.Parts) == 0 {
		return "", fmt.Errorf("%w: candidate has no parts", models.ErrAdvisoryParse)
	}
	if first.Parts[0].Text == nil {
		return "", fmt.Errorf("%w: first part has no text", models.ErrAdvisoryParse)
	}
	return *first.Parts[0].Text, nil
}
