// Package builtin ships the capabilities Concierge knows out of the box:
// their manifests, embedded at build time, and the executors bound to them.
package builtin

import (
	"embed"
	"fmt"

	"github.com/jllopis/concierge/internal/builtin/calendar"
	"github.com/jllopis/concierge/internal/builtin/mail"
	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/skills"
)

//go:embed manifests
var manifests embed.FS

var executors = map[string]capability.Executor{
	"audio":    Audio,
	"file":     File,
	"calendar": calendar.Execute,
	"mail":     mail.Execute,
	"booking":  Booking,
	"weather":  Weather,
}

// Specs returns the embedded manifests.
func Specs() ([]skills.Spec, error) {
	return skills.LoadFS(manifests, "manifests")
}

// Executor returns the executor bound to a built-in capability name.
func Executor(name string) (capability.Executor, bool) {
	exec, ok := executors[name]
	return exec, ok
}

// Descriptors binds executors to specs. Specs without a built-in executor
// get none and complete with their collected values.
func Descriptors(specs []skills.Spec) []capability.Descriptor {
	out := make([]capability.Descriptor, 0, len(specs))
	for _, s := range specs {
		exec, _ := Executor(s.Name)
		out = append(out, s.Descriptor(exec))
	}
	return out
}

// Registry builds the capability registry from the embedded manifests,
// overlaid by the manifests found in dir when dir is not empty.
func Registry(dir string) (*capability.Registry, error) {
	specs, err := Specs()
	if err != nil {
		return nil, fmt.Errorf("load built-in manifests: %w", err)
	}
	if dir != "" {
		local, err := skills.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load manifests from %s: %w", dir, err)
		}
		specs = skills.Merge(specs, local)
	}
	return capability.NewRegistry(Descriptors(specs)...)
}
