// Package advisory turns a forecast summary into a short advisory message using
// an LLM text-generation endpoint. Every call ends in exactly one models.Outcome;
// transport failures are retried with exponential backoff, parse failures are not.
package advisory

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// Persona is the fixed system instruction sent with every summary.
const Persona = "你是一位親切、溫和、且體貼的天氣顧問。請根據提供的數據，用傳統中文撰寫一個簡短、禮貌的問候語，總結未來的天氣狀況，並給予一到兩條實用的穿著或活動建議。請保持語氣友善和關心，不要使用標題或項目符號。"

// User-facing messages for the non-generated outcomes.
const (
	MessageCredentialMissing = "Gemini API 金鑰未設定。無法生成 LLM 結果。"
	MessageConnectionFailed  = "❌ LLM 服務連線失敗或超時。"
	MessageParseFailed       = "❌ LLM 響應處理失敗。"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 2 * time.Second
)

// Advisor produces an advisory for a prompt summary. It never returns an error;
// failures are reported through Advisory.Outcome and a fixed message.
type Advisor interface {
	Generate(ctx context.Context, summary string) models.Advisory
	HasCredential() bool
	// Provider names the backend ("gemini", "openai").
	Provider() string
}

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClockSleep returns a SleepFunc driven by clock.
func ClockSleep(clock clockwork.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		timer := clock.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.Chan():
			return nil
		}
	}
}

// RetryPolicy bounds the attempt loop. Delay starts at InitialDelay and doubles
// after each failed attempt; MaxDelay caps it when positive.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	return p
}

// attemptFunc performs one call. Errors wrap models.ErrAdvisoryTransport or
// models.ErrAdvisoryParse; anything else is treated as transport.
type attemptFunc func(ctx context.Context) (string, error)

// retrier runs the shared attempt loop for every provider.
type retrier struct {
	provider string
	policy   RetryPolicy
	sleep    SleepFunc
	logger   *zap.Logger
}

func newRetrier(provider string, policy RetryPolicy, sleep SleepFunc, logger *zap.Logger) *retrier {
	if sleep == nil {
		sleep = ClockSleep(clockwork.NewRealClock())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrier{
		provider: provider,
		policy:   policy.withDefaults(),
		sleep:    sleep,
		logger:   logger,
	}
}

func (r *retrier) run(ctx context.Context, call attemptFunc) models.Advisory {
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	logger = logger.With(zap.String("provider", r.provider))

	delay := r.policy.InitialDelay
	for attempt := 1; ; attempt++ {
		start := time.Now()
		text, err := call(ctx)
		status := attemptStatus(err)
		observability.AdvisoryAPICallsTotal.WithLabelValues(r.provider, status).Inc()
		observability.AdvisoryAPIDuration.WithLabelValues(r.provider, status).Observe(time.Since(start).Seconds())

		if err == nil {
			return finish(models.OutcomeGenerated, text, attempt)
		}
		if errors.Is(err, models.ErrAdvisoryParse) {
			logger.Error("advisory response unusable", zap.Int("attempt", attempt), zap.Error(err))
			return finish(models.OutcomeParseFailed, MessageParseFailed, attempt)
		}
		if attempt >= r.policy.MaxAttempts {
			logger.Error("advisory request failed, attempts exhausted",
				zap.Int("attempts", attempt), zap.Error(err))
			return finish(models.OutcomeConnectionFailed, MessageConnectionFailed, attempt)
		}

		logger.Warn("advisory request failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		observability.AdvisoryRetriesTotal.Inc()
		if err := r.sleep(ctx, delay); err != nil {
			logger.Warn("advisory retry abandoned", zap.Error(err))
			return finish(models.OutcomeConnectionFailed, MessageConnectionFailed, attempt)
		}
		delay *= 2
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
}

func finish(outcome models.Outcome, text string, attempts int) models.Advisory {
	observability.AdvisoryOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	return models.Advisory{Text: text, Outcome: outcome, Attempts: attempts}
}

func credentialMissing(message string) models.Advisory {
	observability.AdvisoryOutcomesTotal.WithLabelValues(string(models.OutcomeCredentialMissing)).Inc()
	return models.Advisory{Text: message, Outcome: models.OutcomeCredentialMissing}
}

func attemptStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrAdvisoryParse):
		return "parse_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
