// Package capability holds the capability data model: descriptors, the
// argument dependency evaluator, collected values, results and the registry.
package capability

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// Smalltalk is the reserved capability used when routing finds nothing.
const Smalltalk = "smalltalk"

// OptionalPolicy decides what happens to an optional argument nobody answered.
type OptionalPolicy string

const (
	// SkipAfterPrompt treats an optional argument as satisfied-with-absence
	// once its single prompt yielded nothing usable.
	SkipAfterPrompt OptionalPolicy = "skip-after-prompt"
	// AskUntilAnswered re-asks optional arguments like required ones.
	AskUntilAnswered OptionalPolicy = "ask-until-answered"
)

// Dependency makes an argument active only while each controller holds one
// of the accepted values.
type Dependency map[string][]string

// Choice is one canonical value of a closed argument and the words that mean it.
type Choice struct {
	Value   string   `yaml:"value"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// Argument describes one piece of information a capability needs.
type Argument struct {
	Name        string
	Description string
	Question    string
	DependsOn   Dependency
	Required    bool
	Choices     []Choice
}

// Normalize maps a raw answer to the value to record. Closed arguments
// accept canonical values and aliases only.
func (a Argument) Normalize(answer string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	if len(a.Choices) == 0 {
		return answer, true
	}
	key := foldChoice(answer)
	for _, c := range a.Choices {
		if foldChoice(c.Value) == key {
			return c.Value, true
		}
		for _, alias := range c.Aliases {
			if foldChoice(alias) == key {
				return c.Value, true
			}
		}
	}
	return "", false
}

// ChoiceValues lists the canonical values of a closed argument.
func (a Argument) ChoiceValues() []string {
	out := make([]string, 0, len(a.Choices))
	for _, c := range a.Choices {
		out = append(out, c.Value)
	}
	return out
}

func foldChoice(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToLower(s)
}

// Descriptor describes a capability. It is immutable once registered.
type Descriptor struct {
	Name        string
	Description string
	Arguments   []Argument
	Instruction string
	Execute     Executor
	Optional    OptionalPolicy
}

// Argument returns the argument called name.
func (d Descriptor) Argument(name string) (Argument, bool) {
	for _, a := range d.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}

// Policy returns the optional-argument policy, defaulting to SkipAfterPrompt.
func (d Descriptor) Policy() OptionalPolicy {
	if d.Optional == "" {
		return SkipAfterPrompt
	}
	return d.Optional
}

// Executor runs a capability once its arguments are collected. A returned
// error is unrecoverable; domain failures are outcomes with an _error type.
type Executor func(ctx context.Context, inv Invocation) (Result, error)

// Invocation is the input of one execution.
type Invocation struct {
	Capability string
	Args       Values
	Utterance  string
	Env        *Env
}

// Player plays an audio file.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Summarizer condenses content following instruction.
type Summarizer func(ctx context.Context, instruction, content string) (string, error)

// Env is the host context handed to every execution. The session host
// builds it once and owns the lifecycle of whatever it references.
type Env struct {
	FilesDir     string
	MediaDir     string
	CalendarPath string
	MailPath     string
	Location     *time.Location
	Clock        func() time.Time
	Player       Player
	Summarizer   Summarizer
	Logger       *slog.Logger
}

// Now returns the current time in the host location.
func (e *Env) Now() time.Time {
	now := time.Now
	if e != nil && e.Clock != nil {
		now = e.Clock
	}
	t := now()
	if e != nil && e.Location != nil {
		t = t.In(e.Location)
	}
	return t
}

// Log returns the host logger or the slog default.
func (e *Env) Log() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
