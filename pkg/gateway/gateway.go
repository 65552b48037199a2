// Package gateway is the single door to the language-model backend. It
// exposes the three operations the dialogue engine needs and turns every
// backend failure into a typed error instead of letting it escape.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/llm"
	"github.com/jllopis/concierge/pkg/resilience"
	"github.com/jllopis/concierge/pkg/telemetry"
)

// Params bounds the creativity and length of one generation.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Defaults per operation.
var (
	DefaultClassifyParams   = Params{Temperature: 0, MaxTokens: 16}
	DefaultExtractParams    = Params{Temperature: 0, MaxTokens: 128}
	DefaultSynthesizeParams = Params{Temperature: 0.7, MaxTokens: 512}
)

// DefaultTimeout bounds a single backend attempt.
const DefaultTimeout = 30 * time.Second

// Gateway calls the backend with a bounded timeout, at most one retry of
// recoverable failures and a circuit breaker shared by every session.
type Gateway struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	params   map[llm.Purpose]Params
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

// WithTimeout bounds each backend attempt.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithRetry replaces the retry policy. MaxAttempts above 2 is clamped.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = rc }
}

// WithBreaker shares an existing circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = cb }
}

// WithParams overrides the generation parameters of one operation.
func WithParams(purpose llm.Purpose, p Params) Option {
	return func(g *Gateway) { g.params[purpose] = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics records call counts and durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway over provider.
func New(provider llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		timeout:  DefaultTimeout,
		retry:    resilience.DefaultRetryConfig(),
		params: map[llm.Purpose]Params{
			llm.PurposeClassify:   DefaultClassifyParams,
			llm.PurposeExtract:    DefaultExtractParams,
			llm.PurposeSynthesize: DefaultSynthesizeParams,
		},
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/jllopis/concierge/pkg/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"})
	}
	if g.retry.MaxAttempts > 2 {
		g.retry.MaxAttempts = 2
	}
	g.retry.IsRecoverable = func(err error) bool {
		return !errors.IsCode(err, errors.CodeUnavailable) && resilience.IsRecoverable(err)
	}
	g.logger = g.logger.With("component", "gateway")
	return g
}

// ClassifyIntent asks the backend which capability an utterance is about.
func (g *Gateway) ClassifyIntent(ctx context.Context, system, user string) (string, error) {
	return g.call(ctx, llm.PurposeClassify, "ClassifyIntent", system, user)
}

// ExtractArgument asks the backend for the value of one argument.
func (g *Gateway) ExtractArgument(ctx context.Context, system, user string) (string, error) {
	return g.call(ctx, llm.PurposeExtract, "ExtractArgument", system, user)
}

// SynthesizeReply renders a capability result as a reply.
func (g *Gateway) SynthesizeReply(ctx context.Context, system, user string) (string, error) {
	return g.call(ctx, llm.PurposeSynthesize, "SynthesizeReply", system, user)
}

// Breaker exposes the circuit breaker state.
func (g *Gateway) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

func (g *Gateway) call(ctx context.Context, purpose llm.Purpose, op, system, user string) (string, error) {
	params := g.params[purpose]
	ctx, span := g.tracer.Start(ctx, "Gateway."+op,
		trace.WithAttributes(telemetry.LLMRequestAttributes(string(purpose), g.model, params.Temperature, params.MaxTokens)...))
	defer span.End()

	req := llm.ChatRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Purpose:     purpose,
	}

	start := time.Now()
	attempts := 0
	answer, err := resilience.Retry(ctx, g.retry, func() (string, error) {
		attempts++
		var out string
		err := g.breaker.Call(func() error {
			var err error
			out, err = g.attempt(ctx, req)
			return err
		})
		return out, err
	})
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("concierge.gateway.attempts", attempts))

	if err != nil {
		e := errors.As(err).WithContext("operation", string(purpose))
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Message)
		g.metrics.RecordGatewayCall(ctx, string(purpose), string(e.Code), elapsed)
		g.metrics.RecordError(ctx, e, "gateway")
		g.logger.WarnContext(ctx, "gateway call failed",
			"operation", purpose, "attempts", attempts, "duration", elapsed, "error", e)
		return "", e
	}

	span.SetStatus(codes.Ok, "")
	g.metrics.RecordGatewayCall(ctx, string(purpose), "ok", elapsed)
	g.logger.DebugContext(ctx, "gateway call",
		"operation", purpose, "attempts", attempts, "duration", elapsed,
		"system", system, "user", user, "answer", answer)
	return answer, nil
}

// attempt performs one bounded backend call.
func (g *Gateway) attempt(ctx context.Context, req llm.ChatRequest) (string, error) {
	resp, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: g.timeout},
		func(ctx context.Context) (resp *llm.ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.New(errors.CodeLLMError, "backend panicked", fmt.Errorf("%v", r))
				}
			}()
			return g.provider.Chat(ctx, req)
		})
	if err != nil {
		if errors.IsCode(err, errors.CodeTimeout) || errors.IsCode(err, errors.CodeLLMError) {
			return "", err
		}
		return "", errors.New(errors.CodeLLMError, "backend call failed", err).WithRecoverable(true)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New(errors.CodeLLMError, "backend returned an empty answer", nil)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	return strings.TrimSpace(resp.Content), nil
}
