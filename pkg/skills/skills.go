// Package skills loads capability manifests. A manifest is a SKILL.md file
// whose YAML frontmatter declares the capability and its arguments and whose
// Markdown body is the synthesis instruction.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/concierge/pkg/capability"
)

// FileName is the manifest file expected in each capability directory.
const FileName = "SKILL.md"

// Spec is a parsed capability manifest.
type Spec struct {
	Name        string
	Description string
	Optional    capability.OptionalPolicy
	Arguments   []capability.Argument
	Instruction string
	Path        string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	argNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// LoadDir scans a directory for capability subdirectories with SKILL.md.
func LoadDir(root string) ([]Spec, error) {
	return LoadFS(os.DirFS(root), ".")
}

// LoadFS scans root inside fsys for capability subdirectories with SKILL.md.
// Subdirectories without a manifest are ignored.
func LoadFS(fsys fs.FS, root string) ([]Spec, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var out []Spec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p := path.Join(root, entry.Name(), FileName)
		data, err := fs.ReadFile(fsys, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		spec, err := Parse(data, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		spec.Path = p
		out = append(out, spec)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(p string) (Spec, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Spec{}, err
	}
	spec, err := Parse(data, filepath.Base(filepath.Dir(p)))
	if err != nil {
		return Spec{}, fmt.Errorf("%s: %w", p, err)
	}
	spec.Path = p
	return spec, nil
}

type frontmatter struct {
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description"`
	OptionalPolicy string        `yaml:"optional-policy"`
	Arguments      []argumentDoc `yaml:"arguments"`
}

type argumentDoc struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Question    string              `yaml:"question"`
	DependsOn   map[string]any      `yaml:"depends-on"`
	Required    *bool               `yaml:"required"`
	Choices     []capability.Choice `yaml:"choices"`
}

// Parse decodes manifest content. dirName is the directory holding the
// manifest; the declared name must match it.
func Parse(data []byte, dirName string) (Spec, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Spec{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Spec{}, fmt.Errorf("parse frontmatter: %w", err)
	}

	spec := Spec{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Optional:    capability.OptionalPolicy(parsed.OptionalPolicy),
		Instruction: body,
	}
	for _, a := range parsed.Arguments {
		dep, err := normalizeDependsOn(a.DependsOn)
		if err != nil {
			return Spec{}, fmt.Errorf("argument %s: %w", a.Name, err)
		}
		required := true
		if a.Required != nil {
			required = *a.Required
		}
		spec.Arguments = append(spec.Arguments, capability.Argument{
			Name:        strings.TrimSpace(a.Name),
			Description: strings.TrimSpace(a.Description),
			Question:    strings.TrimSpace(a.Question),
			DependsOn:   dep,
			Required:    required,
			Choices:     a.Choices,
		})
	}
	if err := validate(spec, dirName); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Descriptor binds exec to the manifest. A nil exec is allowed.
func (s Spec) Descriptor(exec capability.Executor) capability.Descriptor {
	args := make([]capability.Argument, len(s.Arguments))
	copy(args, s.Arguments)
	return capability.Descriptor{
		Name:        s.Name,
		Description: s.Description,
		Arguments:   args,
		Instruction: s.Instruction,
		Execute:     exec,
		Optional:    s.Optional,
	}
}

// Merge overlays override onto base by name. Base order is kept and new
// names are appended.
func Merge(base, override []Spec) []Spec {
	out := append([]Spec(nil), base...)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.Name] = i
	}
	for _, s := range override {
		if i, ok := index[s.Name]; ok {
			out[i] = s
			continue
		}
		index[s.Name] = len(out)
		out = append(out, s)
	}
	return out
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validate(spec Spec, dirName string) error {
	name := spec.Name
	if name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if dirName != "" && dirName != name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if spec.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(spec.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	for _, a := range spec.Arguments {
		if !argNamePattern.MatchString(a.Name) {
			return fmt.Errorf("argument name %q must match %s", a.Name, argNamePattern.String())
		}
		if a.Description == "" {
			return fmt.Errorf("argument %s: description is required", a.Name)
		}
	}
	return nil
}

// normalizeDependsOn accepts a single accepted value or a list per controller.
func normalizeDependsOn(raw map[string]any) (capability.Dependency, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dep := make(capability.Dependency, len(raw))
	for controller, value := range raw {
		switch v := value.(type) {
		case string:
			dep[controller] = []string{strings.TrimSpace(v)}
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("depends-on %s must be a string list", controller)
				}
				values = append(values, strings.TrimSpace(str))
			}
			dep[controller] = values
		default:
			return nil, fmt.Errorf("depends-on %s must be a string or a list", controller)
		}
	}
	return dep, nil
}
