package advisory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini"

	MessageOpenAICredentialMissing = "OpenAI API 金鑰未設定。無法生成 LLM 結果。"
)

// OpenAIConfig configures OpenAIClient. BaseURL points at any
// chat-completions compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   RetryPolicy
	Sleep   SleepFunc
	Logger  *zap.Logger
}

// OpenAIClient generates advisories through a chat-completions endpoint.
type OpenAIClient struct {
	apiKey  string
	api     *openai.Client
	model   string
	timeout time.Duration
	retrier *retrier
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		apiCfg.BaseURL = base
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retrier: newRetrier("openai", cfg.Retry, cfg.Sleep, cfg.Logger),
	}
}

func (c *OpenAIClient) HasCredential() bool {
	return c.apiKey != ""
}

func (c *OpenAIClient) Provider() string { return "openai" }

func (c *OpenAIClient) Generate(ctx context.Context, summary string) models.Advisory {
	if c.apiKey == "" {
		return credentialMissing(MessageOpenAICredentialMissing)
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: Persona},
			{Role: openai.ChatMessageRoleUser, Content: summary},
		},
	}
	return c.retrier.run(ctx, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no completion choices", models.ErrAdvisoryParse)
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

// classifyOpenAIError treats API status errors, request failures and network
// errors as transport. Anything else, such as a 200 body that does not decode,
// is a parse failure.
func classifyOpenAIError(err error) error {
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.As(err, &apiErr), errors.As(err, &reqErr), errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", models.ErrAdvisoryTransport, err)
	}
	return fmt.Errorf("%w: %w", models.ErrAdvisoryParse, err)
}
