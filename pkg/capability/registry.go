package capability

import (
	"strings"

	"github.com/jllopis/concierge/pkg/errors"
)

// Registry is the ordered, read-only set of capabilities. It is validated
// once at construction and safe for concurrent use afterwards.
type Registry struct {
	order  []string
	byName map[string]Descriptor
}

// NewRegistry validates descs and builds a Registry. Every violation is an
// errors.CodeInvalidConfig error.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, configError(d.Name, "", "duplicate capability name")
		}
		r.order = append(r.order, d.Name)
		r.byName[d.Name] = d
	}

	small, ok := r.byName[Smalltalk]
	if !ok {
		return nil, configError(Smalltalk, "", "reserved smalltalk capability is missing")
	}
	if len(small.Arguments) != 0 {
		return nil, configError(Smalltalk, "", "smalltalk must not declare arguments")
	}
	return r, nil
}

func validate(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return configError("", "", "capability name is required")
	}
	switch d.Optional {
	case "", SkipAfterPrompt, AskUntilAnswered:
	default:
		return configError(d.Name, "", "unknown optional policy "+string(d.Optional))
	}

	index := make(map[string]int, len(d.Arguments))
	for i, a := range d.Arguments {
		if strings.TrimSpace(a.Name) == "" {
			return configError(d.Name, "", "argument name is required")
		}
		if _, dup := index[a.Name]; dup {
			return configError(d.Name, a.Name, "duplicate argument name")
		}
		if strings.TrimSpace(a.Question) == "" {
			return configError(d.Name, a.Name, "argument question is required")
		}
		for _, c := range a.Choices {
			if strings.TrimSpace(c.Value) == "" {
				return configError(d.Name, a.Name, "empty choice value")
			}
		}
		index[a.Name] = i
	}

	if cyc := findCycle(d.Arguments, index); cyc != "" {
		return configError(d.Name, cyc, "dependency cycle")
	}

	for i, a := range d.Arguments {
		for controller, allowed := range a.DependsOn {
			j, ok := index[controller]
			switch {
			case !ok:
				return configError(d.Name, a.Name, "depends on unknown argument "+controller)
			case j == i:
				return configError(d.Name, a.Name, "depends on itself")
			case j > i:
				return configError(d.Name, a.Name, "depends on "+controller+" which is declared later")
			}
			if len(allowed) == 0 {
				return configError(d.Name, a.Name, "dependency on "+controller+" accepts no value")
			}
			ctrl := d.Arguments[j]
			if len(ctrl.Choices) > 0 {
				for _, v := range allowed {
					if _, ok := ctrl.Normalize(v); !ok {
						return configError(d.Name, a.Name, "dependency value "+v+" is not a choice of "+controller)
					}
				}
			}
		}
	}
	return nil
}

// findCycle walks the dependency graph depth-first and returns an argument
// on a cycle, or "".
func findCycle(args []Argument, index map[string]int) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(args))
	var visit func(i int) string
	visit = func(i int) string {
		state[i] = visiting
		for controller := range args[i].DependsOn {
			j, ok := index[controller]
			if !ok || j == i {
				continue
			}
			switch state[j] {
			case visiting:
				return args[j].Name
			case unvisited:
				if name := visit(j); name != "" {
					return name
				}
			}
		}
		state[i] = done
		return ""
	}
	for i := range args {
		if state[i] == unvisited {
			if name := visit(i); name != "" {
				return name
			}
		}
	}
	return ""
}

func configError(capability, argument, msg string) *errors.Error {
	e := errors.New(errors.CodeInvalidConfig, msg, nil)
	if capability != "" {
		e.WithContext("capability", capability)
	}
	if argument != "" {
		e.WithContext("argument", argument)
	}
	return e
}

// Get returns the capability called name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Smalltalk returns the reserved fallback capability.
func (r *Registry) Smalltalk() Descriptor {
	return r.byName[Smalltalk]
}

// List returns the capabilities in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.order))
	for i, n := range r.order {
		out[i] = r.byName[n]
	}
	return out
}

// Names returns the capability names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
