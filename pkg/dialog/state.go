// Package dialog is the conversation engine: it routes utterances to
// capabilities, collects their arguments over several turns and renders
// their results as replies.
package dialog

import "github.com/jllopis/concierge/pkg/capability"

// Phase is where a conversation stands in the collection lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCollecting Phase = "collecting"
	PhaseReady      Phase = "ready"
	PhaseDone       Phase = "done"
	PhaseCancelled  Phase = "cancelled"
)

// AtRest reports whether no capability is pending.
func (p Phase) AtRest() bool {
	return p == PhaseIdle || p == PhaseDone || p == PhaseCancelled
}

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseCollecting, PhaseReady, PhaseDone, PhaseCancelled:
		return true
	default:
		return false
	}
}

func (p Phase) String() string {
	return string(p)
}

// State is the mutable state of one conversation. Pending names the
// argument whose question was last asked and Attempts counts unusable
// answers to it.
type State struct {
	Phase      Phase
	Capability string
	Values     capability.Values
	Pending    string
	Skipped    map[string]bool
	Attempts   int
}

// NewState returns an idle state.
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// InProgress reports whether a capability holds the focus.
func (s *State) InProgress() bool {
	return s.Capability != "" && !s.Phase.AtRest()
}

// Begin starts collecting arguments for name.
func (s *State) Begin(name string) {
	s.Reset()
	s.Phase = PhaseCollecting
	s.Capability = name
}

// Reset discards the capability in progress and everything collected.
func (s *State) Reset() {
	s.finish(PhaseIdle)
}

func (s *State) finish(p Phase) {
	s.Phase = p
	s.Capability = ""
	s.Values = capability.Values{}
	s.Pending = ""
	s.Skipped = map[string]bool{}
	s.Attempts = 0
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Values = s.Values.Clone()
	c.Skipped = cloneSet(s.Skipped)
	return &c
}

func cloneSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
