package skills

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/concierge/pkg/capability"
)

const calendarManifest = `---
name: calendar
description: Ajouter, supprimer, modifier ou lister des événements de l'agenda.
arguments:
  - name: action
    description: L'opération demandée sur l'agenda.
    question: Que veux-tu faire dans ton agenda ?
    choices:
      - value: add
        aliases: [ajouter, ajoute]
      - value: list
        aliases: [lister]
  - name: event_info
    description: Les détails de l'événement.
    question: Donne-moi les détails de l'événement.
    depends-on:
      action: [add]
  - name: note
    description: Une remarque facultative.
    question: Une remarque ?
    required: false
    depends-on:
      action: add
---

Résume le résultat de l'opération d'agenda en une ou deux phrases.
`

func writeManifest(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(skillDir, FileName)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	p := writeManifest(t, t.TempDir(), "calendar", calendarManifest)

	spec, err := LoadFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if spec.Name != "calendar" || spec.Path != p {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if spec.Instruction != "Résume le résultat de l'opération d'agenda en une ou deux phrases." {
		t.Errorf("unexpected instruction %q", spec.Instruction)
	}

	want := []capability.Argument{
		{
			Name:        "action",
			Description: "L'opération demandée sur l'agenda.",
			Question:    "Que veux-tu faire dans ton agenda ?",
			Required:    true,
			Choices: []capability.Choice{
				{Value: "add", Aliases: []string{"ajouter", "ajoute"}},
				{Value: "list", Aliases: []string{"lister"}},
			},
		},
		{
			Name:        "event_info",
			Description: "Les détails de l'événement.",
			Question:    "Donne-moi les détails de l'événement.",
			Required:    true,
			DependsOn:   capability.Dependency{"action": {"add"}},
		},
		{
			Name:        "note",
			Description: "Une remarque facultative.",
			Question:    "Une remarque ?",
			Required:    false,
			DependsOn:   capability.Dependency{"action": {"add"}},
		},
	}
	if diff := cmp.Diff(want, spec.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDirSkipsDirectoriesWithoutManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "calendar", calendarManifest)
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	specs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "calendar" {
		t.Fatalf("expected only calendar, got %+v", specs)
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"manifests/smalltalk/SKILL.md": {Data: []byte("---\nname: smalltalk\ndescription: Discussion libre.\n---\nRéponds amicalement.")},
		"manifests/README.md":          {Data: []byte("ignored")},
	}
	specs, err := LoadFS(fsys, "manifests")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "smalltalk" || len(specs[0].Arguments) != 0 {
		t.Fatalf("unexpected specs %+v", specs)
	}
	if specs[0].Path != "manifests/smalltalk/SKILL.md" {
		t.Errorf("Path = %s", specs[0].Path)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		dir     string
	}{
		{"missing frontmatter", "name: x", "x"},
		{"missing name", "---\ndescription: d\n---\n", "x"},
		{"bad name", "---\nname: Bad_Name\ndescription: d\n---\n", "Bad_Name"},
		{"dir mismatch", "---\nname: audio\ndescription: d\n---\n", "music"},
		{"missing description", "---\nname: audio\n---\n", "audio"},
		{"bad argument name", "---\nname: audio\ndescription: d\narguments:\n  - name: File-Path\n    description: x\n    question: y\n---\n", "audio"},
		{"argument without description", "---\nname: audio\ndescription: d\narguments:\n  - name: file_path\n    question: y\n---\n", "audio"},
		{"bad depends-on", "---\nname: audio\ndescription: d\narguments:\n  - name: a\n    description: x\n    question: y\n    depends-on:\n      b: {c: d}\n---\n", "audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content), tt.dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDescriptorAndRegistry(t *testing.T) {
	cal, err := Parse([]byte(calendarManifest), "calendar")
	if err != nil {
		t.Fatal(err)
	}
	small, err := Parse([]byte("---\nname: smalltalk\ndescription: Discussion libre.\n---\n"), "smalltalk")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := capability.NewRegistry(cal.Descriptor(nil), small.Descriptor(nil))
	if err != nil {
		t.Fatalf("manifests should form a valid registry: %v", err)
	}
	d, _ := reg.Get("calendar")
	if d.Policy() != capability.SkipAfterPrompt || d.Instruction == "" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestMerge(t *testing.T) {
	base := []Spec{{Name: "audio", Description: "a"}, {Name: "smalltalk", Description: "s"}}
	override := []Spec{{Name: "smalltalk", Description: "custom"}, {Name: "notes", Description: "n"}}

	got := Merge(base, override)
	var names, descs []string
	for _, s := range got {
		names = append(names, s.Name)
		descs = append(descs, s.Description)
	}
	if diff := cmp.Diff([]string{"audio", "smalltalk", "notes"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if descs[1] != "custom" {
		t.Errorf("override not applied: %v", descs)
	}
	if base[1].Description != "s" {
		t.Error("Merge must not modify base")
	}
}
