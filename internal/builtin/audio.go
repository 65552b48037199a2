package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jllopis/concierge/pkg/capability"
)

// Audio plays the file named by the file_path argument.
func Audio(ctx context.Context, inv capability.Invocation) (capability.Result, error) {
	name := strings.TrimSpace(inv.Args.Get("file_path"))
	path := name
	if inv.Env != nil && inv.Env.MediaDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(inv.Env.MediaDir, path)
	}

	if info, err := os.Stat(path); name == "" || err != nil || info.IsDir() {
		return audioError(name, fmt.Sprintf("Le fichier '%s' n'existe pas.", name)), nil
	}
	if inv.Env == nil || inv.Env.Player == nil {
		return audioError(name, "Aucun lecteur audio n'est disponible sur cette machine."), nil
	}
	if err := inv.Env.Player.Play(ctx, path); err != nil {
		inv.Env.Log().WarnContext(ctx, "audio playback failed", "path", path, "error", err)
		return audioError(name, fmt.Sprintf("Erreur lors de la lecture : %v", err)), nil
	}
	return capability.Outcome(map[string]any{
		"type":      "audio_success",
		"file_path": name,
		"message":   fmt.Sprintf("Lecture terminée de : %s", filepath.Base(path)),
	}), nil
}

func audioError(name, msg string) capability.Result {
	return capability.Outcome(map[string]any{
		"type":      "audio_error",
		"file_path": name,
		"error":     msg,
	})
}

// ErrNoPlayer is returned by NewExecPlayer when no known player is installed.
var ErrNoPlayer = errors.New("no audio player found")

// ExecPlayer plays files by running an external command until it exits.
type ExecPlayer struct {
	Command string
	Args    []string
}

var knownPlayers = []ExecPlayer{
	{Command: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	{Command: "afplay"},
	{Command: "aplay", Args: []string{"-q"}},
}

// NewExecPlayer picks the first known player found on PATH.
func NewExecPlayer() (*ExecPlayer, error) {
	for _, p := range knownPlayers {
		if full, err := exec.LookPath(p.Command); err == nil {
			return &ExecPlayer{Command: full, Args: p.Args}, nil
		}
	}
	return nil, ErrNoPlayer
}

// Play runs the player on path and waits for it to finish.
func (p *ExecPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string(nil), p.Args...), path)
	out, err := exec.CommandContext(ctx, p.Command, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(p.Command), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(p.Command), err)
	}
	return nil
}
