package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{Content: m.Response, Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}}, nil
}

// ScriptedMockProvider returns a pre-defined sequence of responses.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	CallCount int
}

// NewScriptedMockProvider creates a new ScriptedMockProvider.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}
	content := s.Responses[0]
	s.Responses = s.Responses[1:]
	return &ChatResponse{Content: content}, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, response)
}

// HandlerFunc answers one request of a given purpose.
type HandlerFunc func(req ChatRequest) (string, error)

// RoutingMockProvider dispatches requests to a handler per Purpose and keeps
// every request it saw. Unhandled purposes fail, which the gateway surfaces
// as a backend error.
type RoutingMockProvider struct {
	mu       sync.Mutex
	handlers map[Purpose]HandlerFunc
	calls    []ChatRequest
}

// NewRoutingMockProvider creates an empty RoutingMockProvider.
func NewRoutingMockProvider() *RoutingMockProvider {
	return &RoutingMockProvider{handlers: make(map[Purpose]HandlerFunc)}
}

// On registers fn for purpose, replacing any previous handler.
func (r *RoutingMockProvider) On(purpose Purpose, fn HandlerFunc) *RoutingMockProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[purpose] = fn
	return r
}

// Reply registers a handler that always answers text.
func (r *RoutingMockProvider) Reply(purpose Purpose, text string) *RoutingMockProvider {
	return r.On(purpose, func(ChatRequest) (string, error) { return text, nil })
}

// Sequence registers a handler that answers texts in order and then repeats the last one.
func (r *RoutingMockProvider) Sequence(purpose Purpose, texts ...string) *RoutingMockProvider {
	var mu sync.Mutex
	i := 0
	return r.On(purpose, func(ChatRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(texts) == 0 {
			return "", nil
		}
		text := texts[min(i, len(texts)-1)]
		i++
		return text, nil
	})
}

// Chat implements Provider.
func (r *RoutingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	fn, ok := r.handlers[req.Purpose]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("routing mock: no handler for %q", req.Purpose)
	}
	content, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Content: content}, nil
}

// Calls returns the requests received for purpose, or all of them when purpose is empty.
func (r *RoutingMockProvider) Calls(purpose Purpose) []ChatRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ChatRequest
	for _, c := range r.calls {
		if purpose == "" || c.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}
