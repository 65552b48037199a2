package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/concierge/pkg/capability"
)

// File writes the content argument to <FilesDir>/<title>.txt.
func File(_ context.Context, inv capability.Invocation) (capability.Result, error) {
	dir := "Files"
	if inv.Env != nil && inv.Env.FilesDir != "" {
		dir = inv.Env.FilesDir
	}
	title := filepath.Base(strings.TrimSpace(inv.Args.Get("title")))
	if title == "." || title == string(filepath.Separator) || title == "" {
		title = "sans-titre"
	}
	if !strings.HasSuffix(strings.ToLower(title), ".txt") {
		title += ".txt"
	}
	path := filepath.Join(dir, title)

	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		err = os.WriteFile(path, []byte(inv.Args.Get("content")), 0o644)
	}
	if err != nil {
		return capability.Outcome(map[string]any{
			"type":      "file_error",
			"file_path": path,
			"title":     title,
			"error":     fmt.Sprintf("Erreur lors de la création du fichier : %v", err),
		}), nil
	}
	return capability.Outcome(map[string]any{
		"type":      "file_success",
		"file_path": path,
		"title":     title,
		"message":   fmt.Sprintf("Le fichier '%s' a été créé avec succès dans le dossier %s.", title, filepath.Base(dir)),
	}), nil
}
