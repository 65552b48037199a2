package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/telemetry"
	"github.com/jllopis/concierge/pkg/transcript"
)

// Step is what one Advance produced: a question to ask, or readiness.
// Abandoned means the capability was given up and Question holds the
// closing message; the state is already back at rest.
type Step struct {
	Question  string
	Ready     bool
	Abandoned bool
}

// Completion is the end of one collection episode. Degraded is set when
// synthesis failed and the reply fell back to the outcome's own text.
type Completion struct {
	Reply    string
	Result   capability.Result
	Args     capability.Values
	Degraded bool
}

// Machine drives the argument collection of one capability at a time. It
// holds no conversation state of its own and may be shared by sessions.
type Machine struct {
	gateway     Gateway
	env         *capability.Env
	maxAttempts int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// NewMachine builds a Machine. maxAttempts below 1 uses DefaultMaxAttempts.
func NewMachine(gw Gateway, env *capability.Env, maxAttempts int, logger *slog.Logger, metrics *telemetry.Metrics) *Machine {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		gateway:     gw,
		env:         env,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "machine"),
		metrics:     metrics,
	}
}

// Advance moves st forward with utterance. On the turn that selected the
// capability, triggering is true and the utterance is offered to every
// missing argument in order until one finds nothing in it. Later turns
// answer the pending question. A gateway error leaves the caller to
// discard st.
func (m *Machine) Advance(ctx context.Context, d capability.Descriptor, st *State, utterance string, triggering bool) (Step, error) {
	if st.Capability != d.Name || st.Phase != PhaseCollecting {
		return Step{}, errors.Newf(errors.CodeInternal, "state is not collecting %q", d.Name)
	}

	if triggering {
		for {
			arg, ok := nextMissing(d, st)
			if !ok {
				break
			}
			value, usable, err := m.extract(ctx, d, arg, st.Values, utterance)
			if err != nil {
				return Step{}, err
			}
			if !usable {
				break
			}
			st.Values[arg.Name] = capability.Text(value)
		}
	} else if st.Pending != "" {
		if step, done, err := m.answerPending(ctx, d, st, utterance); err != nil || done {
			return step, err
		}
	}

	arg, ok := nextMissing(d, st)
	if !ok {
		st.Phase = PhaseReady
		st.Pending = ""
		st.Attempts = 0
		return Step{Ready: true}, nil
	}
	st.Pending = arg.Name
	return Step{Question: arg.Question}, nil
}

// answerPending records the answer to the pending question. done reports
// that step must be returned as is.
func (m *Machine) answerPending(ctx context.Context, d capability.Descriptor, st *State, utterance string) (step Step, done bool, err error) {
	arg, ok := d.Argument(st.Pending)
	if !ok || !isActive(d, st.Values, arg.Name) {
		st.Pending, st.Attempts = "", 0
		return Step{}, false, nil
	}

	value, usable, err := m.extract(ctx, d, arg, st.Values, utterance)
	if err != nil {
		return Step{}, true, err
	}
	if usable {
		st.Values[arg.Name] = capability.Text(value)
		st.Pending, st.Attempts = "", 0
		return Step{}, false, nil
	}

	st.Attempts++
	switch {
	case !arg.Required && d.Policy() == capability.SkipAfterPrompt:
		st.Skipped[arg.Name] = true
		st.Pending, st.Attempts = "", 0
		m.logger.DebugContext(ctx, "optional argument skipped", "capability", d.Name, "argument", arg.Name)
		return Step{}, false, nil
	case st.Attempts >= m.maxAttempts:
		// The model found nothing usable; a literal closed choice still counts.
		if value, ok := arg.Normalize(utterance); ok && len(arg.Choices) > 0 {
			st.Values[arg.Name] = capability.Text(value)
			st.Pending, st.Attempts = "", 0
			return Step{}, false, nil
		}
		m.logger.WarnContext(ctx, "extraction gave up, abandoning the request",
			"capability", d.Name, "argument", arg.Name, "attempts", m.maxAttempts)
		st.Reset()
		return Step{Question: GiveUpReply, Abandoned: true}, true, nil
	default:
		m.logger.DebugContext(ctx, "unusable answer", "capability", d.Name, "argument", arg.Name, "attempts", st.Attempts)
		return Step{Question: reask(arg)}, true, nil
	}
}

// extract asks the gateway for arg in utterance. usable is false when the
// model found nothing or answered outside the allowed choices.
func (m *Machine) extract(ctx context.Context, d capability.Descriptor, arg capability.Argument, collected capability.Values, utterance string) (string, bool, error) {
	answer, err := m.gateway.ExtractArgument(ctx, extractPrompt(d, arg, collected), utterance)
	if err != nil {
		return "", false, err
	}
	answer = cleanAnswer(answer)
	if isEmptyAnswer(answer) {
		return "", false, nil
	}
	value, ok := arg.Normalize(answer)
	if !ok {
		m.logger.DebugContext(ctx, "answer outside choices", "argument", arg.Name, "answer", answer)
		return "", false, nil
	}
	return value, true, nil
}

// Complete runs the capability once and renders its result. st must be
// ready; it is left done whatever happens after the executor ran. An
// executor error or panic is returned as CAPABILITY_FAILURE.
func (m *Machine) Complete(ctx context.Context, d capability.Descriptor, st *State, utterance string, history []transcript.Entry) (Completion, error) {
	if st.Phase != PhaseReady || st.Capability != d.Name {
		return Completion{}, errors.Newf(errors.CodeInternal, "state is not ready for %q", d.Name)
	}

	args := st.Values.Restrict(executionNames(d, st))
	result, err := m.execute(ctx, d, args, utterance)
	st.finish(PhaseDone)
	if err != nil {
		m.metrics.RecordExecution(ctx, d.Name, "failure")
		return Completion{Args: args}, err
	}
	m.metrics.RecordExecution(ctx, d.Name, result.Discriminator())
	m.logger.InfoContext(ctx, "capability executed",
		"capability", d.Name, "result", result.Kind(), "type", result.Discriminator())
	if result.Failed() {
		m.logger.WarnContext(ctx, "capability reported an error",
			"capability", d.Name, "type", result.Discriminator(), "error", result.Field("error"))
	}

	c := Completion{Result: result, Args: args}
	switch result.Kind() {
	case capability.ResultReply:
		c.Reply = result.Text()
	case capability.ResultOutcome:
		c.Reply, c.Degraded = m.synthesize(ctx, d, result, utterance, history)
	default:
		return c, errors.Newf(errors.CodeCapabilityFailure, "capability %q returned an empty result", d.Name)
	}
	return c, nil
}

func (m *Machine) execute(ctx context.Context, d capability.Descriptor, args capability.Values, utterance string) (result capability.Result, err error) {
	if d.Execute == nil {
		fields := map[string]any{"capability": d.Name}
		if len(args) > 0 {
			fields["values"] = args.Strings()
		}
		return capability.Outcome(fields), nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeCapabilityFailure, "capability panicked", fmt.Errorf("%v", r)).
				WithContext("capability", d.Name)
		}
	}()
	result, err = d.Execute(ctx, capability.Invocation{
		Capability: d.Name,
		Args:       args,
		Utterance:  utterance,
		Env:        m.env,
	})
	if err != nil {
		return result, errors.New(errors.CodeCapabilityFailure, "capability failed", err).
			WithContext("capability", d.Name)
	}
	return result, nil
}

func (m *Machine) synthesize(ctx context.Context, d capability.Descriptor, result capability.Result, utterance string, history []transcript.Entry) (string, bool) {
	content, err := synthesisContent(result.Fields(), utterance, history)
	if err == nil {
		var reply string
		reply, err = m.gateway.SynthesizeReply(ctx, d.Instruction, content)
		if err == nil {
			return reply, false
		}
	}
	m.logger.WarnContext(ctx, "synthesis failed, using fallback reply", "capability", d.Name, "error", err)
	for _, field := range []string{"message", "error"} {
		if s := result.Field(field); s != "" {
			return s, true
		}
	}
	return ApologyReply, true
}

// nextMissing returns the first active argument with neither a value nor a skip.
func nextMissing(d capability.Descriptor, st *State) (capability.Argument, bool) {
	for _, a := range capability.ActiveArguments(d, st.Values) {
		if !st.Values.Has(a.Name) && !st.Skipped[a.Name] {
			return a, true
		}
	}
	return capability.Argument{}, false
}

func isActive(d capability.Descriptor, collected capability.Values, name string) bool {
	for _, a := range capability.ActiveArguments(d, collected) {
		if a.Name == name {
			return true
		}
	}
	return false
}

// executionNames lists the active arguments that were not skipped.
func executionNames(d capability.Descriptor, st *State) []string {
	var names []string
	for _, a := range capability.ActiveArguments(d, st.Values) {
		if !st.Skipped[a.Name] {
			names = append(names, a.Name)
		}
	}
	return names
}
