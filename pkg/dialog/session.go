package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/telemetry"
	"github.com/jllopis/concierge/pkg/transcript"
)

// DefaultHistory is how many transcript entries smalltalk replies see.
const DefaultHistory = 6

// Session is one conversation. HandleTurn is safe for concurrent use;
// turns are processed strictly one after the other.
type Session struct {
	id       string
	registry *capability.Registry
	gateway  Gateway
	env      *capability.Env

	cancel      CancelWords
	maxAttempts int
	history     int
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	transcript  transcript.Store
	audit       transcript.AuditLog
	tracer      trace.Tracer

	router  *Router
	machine *Machine

	mu    sync.Mutex
	state *State
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session id; a random one is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTranscript keeps the turn history in store.
func WithTranscript(store transcript.Store) Option {
	return func(s *Session) { s.transcript = store }
}

// WithAudit records every turn in log.
func WithAudit(log transcript.AuditLog) Option {
	return func(s *Session) { s.audit = log }
}

// WithCancelWords replaces the reserved cancel utterances.
func WithCancelWords(words ...string) Option {
	return func(s *Session) { s.cancel = CancelWords(words) }
}

// WithMaxAttempts bounds unusable answers to one question.
func WithMaxAttempts(n int) Option {
	return func(s *Session) { s.maxAttempts = n }
}

// WithHistory sets how many transcript entries smalltalk sees.
func WithHistory(n int) Option {
	return func(s *Session) { s.history = n }
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithMetrics records turn and execution counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithEnv sets the host context handed to executors.
func WithEnv(env *capability.Env) Option {
	return func(s *Session) { s.env = env }
}

// NewSession creates an idle session.
func NewSession(reg *capability.Registry, gw Gateway, opts ...Option) *Session {
	s := &Session{
		registry:    reg,
		gateway:     gw,
		cancel:      CancelWords(DefaultCancelWords),
		maxAttempts: DefaultMaxAttempts,
		history:     DefaultHistory,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/jllopis/concierge/pkg/dialog"),
		state:       NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.transcript == nil {
		s.transcript = transcript.NewInMemory(4 * max(s.history, 1))
	}
	s.logger = s.logger.With("component", "session", "session_id", s.id)
	s.router = NewRouter(reg, gw, s.cancel, s.logger)
	s.machine = NewMachine(gw, s.env, s.maxAttempts, s.logger, s.metrics)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns a copy of the conversation state.
func (s *Session) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Reset drops the capability in progress and the transcript.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Reset()
	if err := s.transcript.Clear(ctx, s.id); err != nil {
		s.logger.WarnContext(ctx, "clear transcript", "error", err)
	}
}

// turn carries what one HandleTurn learned, for logging and audit.
type turn struct {
	utterance  string
	capability string
	phase      Phase
	outcome    string
	completion *Completion
	err        error
}

// HandleTurn processes one utterance and returns the reply. It never
// panics and never returns an error: failures become a fixed apology and
// leave the conversation state as it was before the turn.
func (s *Session) HandleTurn(ctx context.Context, utterance string) (reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.clock()
	t := &turn{utterance: strings.TrimSpace(utterance)}
	ctx, span := s.tracer.Start(ctx, "Session.HandleTurn",
		trace.WithAttributes(attribute.String(telemetry.AttrSessionID, s.id)))

	defer func() {
		if r := recover(); r != nil {
			t.err = errors.Newf(errors.CodeInternal, "turn panicked: %v", r)
			t.outcome = "apology"
			reply = ApologyReply
			s.logger.ErrorContext(ctx, "recovered from panic", "panic", fmt.Sprint(r))
		}
		if t.err != nil {
			span.RecordError(t.err)
			span.SetStatus(codes.Error, t.err.Error())
			s.metrics.RecordError(ctx, t.err, "session")
		}
		span.SetAttributes(telemetry.TurnAttributes(s.id, t.capability, string(s.state.Phase))...)
		span.End()
		s.metrics.RecordTurn(ctx, t.capability, t.outcome)
		s.remember(ctx, t, reply, started)
	}()

	return s.handle(ctx, t)
}

func (s *Session) handle(ctx context.Context, t *turn) string {
	if t.utterance == "" {
		t.outcome = "empty"
		t.capability = s.state.Capability
		if s.state.Pending != "" {
			if d, ok := s.registry.Get(s.state.Capability); ok {
				if arg, ok := d.Argument(s.state.Pending); ok {
					return arg.Question
				}
			}
		}
		return EmptyReply
	}

	if s.cancel.Match(t.utterance) {
		t.capability = s.state.Capability
		t.phase = PhaseCancelled
		t.outcome = "cancelled"
		if !s.state.InProgress() {
			return NothingToCancel
		}
		s.logger.InfoContext(ctx, "collection cancelled", "capability", s.state.Capability)
		s.state.Reset()
		return CancelledReply
	}

	work := s.state.Clone()
	reply, err := s.advance(ctx, work, t)
	if err != nil {
		t.err = err
		t.outcome = "apology"
		if errors.IsCode(err, errors.CodeCapabilityFailure) {
			s.logger.ErrorContext(ctx, "capability failed", "capability", t.capability, "error", err)
			s.state.Reset()
		} else {
			s.logger.WarnContext(ctx, "turn failed, state kept", "capability", t.capability, "error", err)
		}
		return ApologyReply
	}
	s.state = work
	return reply
}

// advance runs routing and collection on the working copy.
func (s *Session) advance(ctx context.Context, work *State, t *turn) (string, error) {
	name, err := s.router.Route(ctx, t.utterance, work)
	if err != nil {
		return "", err
	}
	triggering := false
	if name != work.Capability || !work.InProgress() {
		work.Begin(name)
		triggering = true
	}
	t.capability = name

	d, ok := s.registry.Get(name)
	if !ok {
		return "", errors.Newf(errors.CodeNotFound, "capability %q is not registered", name)
	}

	step, err := s.machine.Advance(ctx, d, work, t.utterance, triggering)
	if err != nil {
		return "", err
	}
	if step.Abandoned {
		t.phase = PhaseCancelled
		t.outcome = "abandoned"
		return step.Question, nil
	}
	if !step.Ready {
		t.phase = work.Phase
		t.outcome = "question"
		return step.Question, nil
	}

	var history []transcript.Entry
	if d.Name == capability.Smalltalk && s.history > 0 {
		history, err = s.transcript.Recent(ctx, s.id, s.history)
		if err != nil {
			s.logger.WarnContext(ctx, "read transcript", "error", err)
		}
	}
	c, err := s.machine.Complete(ctx, d, work, t.utterance, history)
	t.completion = &c
	t.phase = work.Phase
	if err != nil {
		return "", err
	}
	t.outcome = "completed"
	return c.Reply, nil
}

// remember appends the turn to the transcript and the audit log.
func (s *Session) remember(ctx context.Context, t *turn, reply string, started time.Time) {
	if t.utterance != "" {
		for _, e := range []transcript.Entry{
			{SessionID: s.id, Role: transcript.RoleUser, Content: t.utterance, Capability: t.capability},
			{SessionID: s.id, Role: transcript.RoleAssistant, Content: reply, Capability: t.capability},
		} {
			if err := s.transcript.Append(ctx, e); err != nil {
				s.logger.WarnContext(ctx, "append transcript", "error", err)
			}
		}
	}
	if s.audit == nil {
		return
	}
	phase := t.phase
	if phase == "" {
		phase = s.state.Phase
	}
	rec := transcript.TurnRecord{
		SessionID:  s.id,
		Utterance:  t.utterance,
		Reply:      reply,
		Capability: t.capability,
		Phase:      string(phase),
		StartedAt:  started,
		FinishedAt: s.clock(),
	}
	if t.completion != nil {
		rec.ResultType = t.completion.Result.Discriminator()
		rec.Values = t.completion.Args.Strings()
	}
	if t.err != nil {
		rec.Error = t.err.Error()
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "record audit", "error", err)
	}
}
