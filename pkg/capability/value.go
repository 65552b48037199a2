package capability

import (
	"encoding/json"
	"strings"
)

// Kind tags the shape of a Value.
type Kind int

const (
	// KindText is opaque text, what argument extraction produces.
	KindText Kind = iota
	// KindStructured is a structured mapping.
	KindStructured
)

func (k Kind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "text"
}

// Value is one collected argument value.
type Value struct {
	Kind Kind
	Text string
	Data map[string]any
}

// Text returns a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Structured returns a structured value.
func Structured(data map[string]any) Value {
	return Value{Kind: KindStructured, Data: data}
}

// String renders the value as text; structured values become JSON.
func (v Value) String() string {
	if v.Kind == KindStructured {
		b, err := json.Marshal(v.Data)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return v.Text
}

// Equal compares the rendered value with s, ignoring surrounding space and case.
func (v Value) Equal(s string) bool {
	return strings.EqualFold(strings.TrimSpace(v.String()), strings.TrimSpace(s))
}

// MarshalJSON renders text values as plain strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindStructured {
		return json.Marshal(v.Data)
	}
	return json.Marshal(v.Text)
}

// Values maps argument names to collected values.
type Values map[string]Value

// Get returns the text of name, or "" when absent.
func (vs Values) Get(name string) string {
	v, ok := vs[name]
	if !ok {
		return ""
	}
	return v.String()
}

// Has reports whether name was collected.
func (vs Values) Has(name string) bool {
	_, ok := vs[name]
	return ok
}

// Strings returns the stringified view of every value.
func (vs Values) Strings() map[string]string {
	out := make(map[string]string, len(vs))
	for k, v := range vs {
		out[k] = v.String()
	}
	return out
}

// Restrict returns a copy holding only the given names.
func (vs Values) Restrict(names []string) Values {
	out := make(Values, len(names))
	for _, n := range names {
		if v, ok := vs[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Clone returns a shallow copy.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}
