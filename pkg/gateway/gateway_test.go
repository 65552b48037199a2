package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	kerrors "github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/llm"
	"github.com/jllopis/concierge/pkg/resilience"
	"github.com/jllopis/concierge/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func newTestGateway(p llm.Provider, opts ...Option) *Gateway {
	opts = append([]Option{WithRetry(fastRetry()), WithLogger(telemetry.DiscardLogger())}, opts...)
	return New(p, opts...)
}

func TestOperationsSendPurposeAndParams(t *testing.T) {
	mock := llm.NewRoutingMockProvider().
		Reply(llm.PurposeClassify, "  audio\n").
		Reply(llm.PurposeExtract, "musique.mp3").
		Reply(llm.PurposeSynthesize, "Lecture en cours.")
	g := newTestGateway(mock, WithModel("qwen2.5"))
	ctx := context.Background()

	got, err := g.ClassifyIntent(ctx, "classify", "joue musique.mp3")
	if err != nil || got != "audio" {
		t.Fatalf("ClassifyIntent = %q, %v", got, err)
	}
	if _, err := g.ExtractArgument(ctx, "extract", "joue musique.mp3"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SynthesizeReply(ctx, "synth", "{}"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		purpose llm.Purpose
		want    Params
		system  string
	}{
		{llm.PurposeClassify, DefaultClassifyParams, "classify"},
		{llm.PurposeExtract, DefaultExtractParams, "extract"},
		{llm.PurposeSynthesize, DefaultSynthesizeParams, "synth"},
	}
	for _, tt := range tests {
		calls := mock.Calls(tt.purpose)
		if len(calls) != 1 {
			t.Fatalf("%s: expected 1 call, got %d", tt.purpose, len(calls))
		}
		req := calls[0]
		if req.Temperature != tt.want.Temperature || req.MaxTokens != tt.want.MaxTokens {
			t.Errorf("%s: params = (%v, %d), want %+v", tt.purpose, req.Temperature, req.MaxTokens, tt.want)
		}
		if req.System() != tt.system || req.Model != "qwen2.5" {
			t.Errorf("%s: unexpected request %+v", tt.purpose, req)
		}
	}
}

func TestWithParamsOverride(t *testing.T) {
	mock := llm.NewRoutingMockProvider().Reply(llm.PurposeSynthesize, "ok")
	g := newTestGateway(mock, WithParams(llm.PurposeSynthesize, Params{Temperature: 0.2, MaxTokens: 64}))
	if _, err := g.SynthesizeReply(context.Background(), "s", "u"); err != nil {
		t.Fatal(err)
	}
	req := mock.Calls(llm.PurposeSynthesize)[0]
	if req.Temperature != 0.2 || req.MaxTokens != 64 {
		t.Errorf("override not applied: %+v", req)
	}
}

func TestBackendErrorIsRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}}
	g := newTestGateway(mock)

	_, err := g.ExtractArgument(context.Background(), "s", "u")
	if !kerrors.IsCode(err, kerrors.CodeLLMError) {
		t.Fatalf("expected LLM_ERROR, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("503")
		}
		return &llm.ChatResponse{Content: "weather"}, nil
	}}
	got, err := newTestGateway(mock).ClassifyIntent(context.Background(), "s", "u")
	if err != nil || got != "weather" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestEmptyAnswerIsAFailure(t *testing.T) {
	mock := llm.NewScriptedMockProvider("   ", "never used")
	_, err := newTestGateway(mock).SynthesizeReply(context.Background(), "s", "u")
	if !kerrors.IsCode(err, kerrors.CodeLLMError) {
		t.Fatalf("expected LLM_ERROR, got %v", err)
	}
	if mock.CallCount != 1 {
		t.Errorf("empty answers are not retried, got %d calls", mock.CallCount)
	}
}

func TestTimeoutDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := newTestGateway(mock, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := g.ClassifyIntent(context.Background(), "s", "u")
	if !kerrors.IsCode(err, kerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry after timeout, got %d calls", calls.Load())
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not bounded: %s", time.Since(start))
	}
}

func TestBreakerOpensAndShortCircuits(t *testing.T) {
	var calls atomic.Int32
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		return nil, errors.New("down")
	}}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	g := newTestGateway(mock, WithBreaker(cb))

	_, _ = g.ClassifyIntent(context.Background(), "s", "u")
	if cb.State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}
	before := calls.Load()

	_, err := g.ClassifyIntent(context.Background(), "s", "u")
	if !kerrors.IsCode(err, kerrors.CodeUnavailable) {
		t.Fatalf("expected UNAVAILABLE, got %v", err)
	}
	if calls.Load() != before {
		t.Errorf("backend called while breaker open")
	}
}

func TestProviderPanicIsContained(t *testing.T) {
	mock := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		panic("nil map")
	}}
	_, err := newTestGateway(mock).ExtractArgument(context.Background(), "s", "u")
	if !kerrors.IsCode(err, kerrors.CodeLLMError) {
		t.Fatalf("expected LLM_ERROR, got %v", err)
	}
}
