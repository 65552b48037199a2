package dialog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/resilience"
)

// Gateway is the part of the language-model gateway the engine uses.
type Gateway interface {
	ClassifyIntent(ctx context.Context, system, user string) (string, error)
	ExtractArgument(ctx context.Context, system, user string) (string, error)
	SynthesizeReply(ctx context.Context, system, user string) (string, error)
}

// CancelWords matches the reserved cancel utterances.
type CancelWords []string

// Match reports whether utterance is a cancel command.
func (c CancelWords) Match(utterance string) bool {
	u := strings.TrimSpace(utterance)
	for _, w := range c {
		if strings.EqualFold(u, strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

// Router picks the capability an utterance is about.
type Router struct {
	registry *capability.Registry
	gateway  Gateway
	cancel   CancelWords
	prompt   string
	logger   *slog.Logger
}

// NewRouter builds a router over an immutable registry.
func NewRouter(reg *capability.Registry, gw Gateway, cancel CancelWords, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: reg,
		gateway:  gw,
		cancel:   cancel,
		prompt:   classifyPrompt(reg),
		logger:   logger.With("component", "router"),
	}
}

// Route returns the capability name for utterance. A capability in
// progress keeps the focus until it completes or a cancel command arrives.
// Classification failures fall back to smalltalk. Route never mutates state.
func (r *Router) Route(ctx context.Context, utterance string, state *State) (string, error) {
	if state != nil && state.InProgress() && !r.cancel.Match(utterance) {
		return state.Capability, nil
	}

	return resilience.WithFallback(ctx,
		func(ctx context.Context) (string, error) {
			answer, err := r.gateway.ClassifyIntent(ctx, r.prompt, utterance)
			if err != nil {
				return "", err
			}
			name := r.resolve(answer)
			r.logger.InfoContext(ctx, "utterance routed", "capability", name, "answer", answer)
			return name, nil
		},
		func(ctx context.Context, err error) (string, error) {
			if ctx.Err() != nil {
				return "", errors.New(errors.CodeContextLost, "routing abandoned", ctx.Err())
			}
			r.logger.WarnContext(ctx, "classification failed, falling back to smalltalk", "error", err)
			return capability.Smalltalk, nil
		})
}

// resolve maps a model answer onto a registered name. Anything that is not
// exactly a known name counts as none.
func (r *Router) resolve(answer string) string {
	name := strings.ToLower(cleanAnswer(answer))
	if _, ok := r.registry.Get(name); !ok || name == NoCapability {
		return capability.Smalltalk
	}
	return name
}
