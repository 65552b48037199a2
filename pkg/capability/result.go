package capability

import "strings"

// ResultKind tells the two Result variants apart.
type ResultKind int

const (
	// ResultReply is a literal reply returned to the user verbatim.
	ResultReply ResultKind = iota + 1
	// ResultOutcome is a structured outcome rendered through synthesis.
	ResultOutcome
)

func (k ResultKind) String() string {
	switch k {
	case ResultReply:
		return "reply"
	case ResultOutcome:
		return "outcome"
	default:
		return "invalid"
	}
}

// Result is what an executor returns: either a literal reply or a structured outcome.
// The zero Result is invalid.
type Result struct {
	kind    ResultKind
	text    string
	outcome map[string]any
}

// Reply builds a literal-reply result.
func Reply(text string) Result {
	return Result{kind: ResultReply, text: text}
}

// Outcome builds a structured result. Outcomes conventionally carry a
// "type" discriminator ending in _success or _error.
func Outcome(fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return Result{kind: ResultOutcome, outcome: fields}
}

// Kind returns the variant.
func (r Result) Kind() ResultKind { return r.kind }

// Text returns the literal reply; empty for outcomes.
func (r Result) Text() string { return r.text }

// Fields returns the outcome mapping; nil for replies.
func (r Result) Fields() map[string]any { return r.outcome }

// Discriminator returns the outcome "type" field, or "reply" for literal replies.
func (r Result) Discriminator() string {
	if r.kind == ResultReply {
		return "reply"
	}
	s, _ := r.outcome["type"].(string)
	return s
}

// Failed reports whether the outcome signals a domain error.
func (r Result) Failed() bool {
	return strings.HasSuffix(r.Discriminator(), "_error")
}

// Field returns a string field of the outcome.
func (r Result) Field(name string) string {
	s, _ := r.outcome[name].(string)
	return s
}
