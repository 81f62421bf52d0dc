// Package providers implements agent.ProviderAdapter for each supported LLM
// backend.
package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/lore/internal/backoff"
	"github.com/haasonsaas/lore/pkg/models"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
	defaultMaxTokens  = 4096
)

var tracer = otel.Tracer("github.com/haasonsaas/lore/internal/agent/providers")

// Config holds the settings shared by every adapter.
type Config struct {
	// APIKey authenticates against the backend (required).
	APIKey string

	// BaseURL overrides the backend endpoint.
	BaseURL string

	// Model is the chat model; each adapter has its own default.
	Model string

	// EmbeddingModel is used by Embed where supported.
	EmbeddingModel string

	// Timeout bounds every individual HTTP call. Default: 120s
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// adapters that retry. Zero uses the default of 3; negative disables.
	MaxRetries int

	// RetryPolicy overrides backoff.ProviderPolicy.
	RetryPolicy *backoff.Policy

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (c Config) withDefaults(defaultModel, defaultEmbedding string) Config {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultEmbedding
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c Config) retrier(provider string) backoff.Retrier {
	policy := backoff.ProviderPolicy()
	if c.RetryPolicy != nil {
		policy = *c.RetryPolicy
	}
	logger := c.Logger
	return backoff.Retrier{
		Policy:      policy,
		Attempts:    c.MaxRetries + 1,
		ShouldRetry: IsRetryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("retrying provider call",
				"provider", provider,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		},
	}
}

// callWithTimeout runs fn under the configured per-call deadline and maps an
// expired deadline onto a timeout ProviderError.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, provider, model string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		perr := NewProviderError(provider, model, err)
		perr.Reason = FailoverTimeout
		perr.Message = "request timed out after " + timeout.String()
		return zero, perr
	}
	return value, err
}

func startSpan(ctx context.Context, op, provider, model string, req chatShape) (context.Context, trace.Span) {
	return tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.tool_choice", string(req.choice)),
			attribute.Int("llm.tools", req.tools),
			attribute.Int("llm.messages", req.messages),
		),
	)
}

func endSpan(span trace.Span, usage *models.Usage, err error) {
	if usage != nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", usage.InputTokens),
			attribute.Int("llm.output_tokens", usage.OutputTokens),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type chatShape struct {
	choice   models.ToolChoice
	tools    int
	messages int
}

func normalizedUsage(input, output, total int) *models.Usage {
	if input == 0 && output == 0 && total == 0 {
		return nil
	}
	if total == 0 {
		total = input + output
	}
	return &models.Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
