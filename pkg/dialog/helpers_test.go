package dialog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/gateway"
	"github.com/jllopis/concierge/pkg/llm"
	"github.com/jllopis/concierge/pkg/resilience"
	"github.com/jllopis/concierge/pkg/telemetry"
)

// recorder counts executions and keeps the arguments each one received.
type recorder struct {
	mu    sync.Mutex
	calls []capability.Values
}

func (r *recorder) exec(result capability.Result) capability.Executor {
	return func(_ context.Context, inv capability.Invocation) (capability.Result, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, inv.Args.Clone())
		return result, nil
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() capability.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func smalltalkDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        capability.Smalltalk,
		Description: "conversation générale",
		Instruction: "Réponds naturellement en français.",
	}
}

func calendarDescriptor(exec capability.Executor) capability.Descriptor {
	return capability.Descriptor{
		Name:        "calendar",
		Description: "gestion du calendrier",
		Arguments: []capability.Argument{
			{
				Name:        "action",
				Description: "l'action à effectuer",
				Question:    "Que veux-tu faire avec le calendrier ?",
				Required:    true,
				Choices: []capability.Choice{
					{Value: "add", Aliases: []string{"ajouter"}},
					{Value: "remove", Aliases: []string{"supprimer"}},
					{Value: "edit", Aliases: []string{"modifier"}},
					{Value: "list", Aliases: []string{"lister"}},
				},
			},
			{
				Name:        "event_info",
				Description: "les détails de l'événement",
				Question:    "Donne-moi les détails nécessaires pour cette action.",
				Required:    true,
				DependsOn:   capability.Dependency{"action": {"add", "remove", "edit"}},
			},
		},
		Instruction: "Tu gères un calendrier.",
		Execute:     exec,
	}
}

func bookingDescriptor(exec capability.Executor) capability.Descriptor {
	return capability.Descriptor{
		Name:        "booking",
		Description: "réservation de restaurant",
		Arguments: []capability.Argument{
			{Name: "restaurant_name", Description: "le nom du restaurant", Question: "Dans quel restaurant veux-tu réserver ?", Required: true},
			{Name: "date", Description: "la date", Question: "Pour quel jour ?", Required: true},
			{Name: "time", Description: "l'heure", Question: "À quelle heure ?", Required: true},
			{Name: "people", Description: "le nombre de personnes", Question: "Pour combien de personnes ?", Required: true},
			{Name: "notes", Description: "une demande particulière", Question: "Une demande particulière ?", Required: false},
		},
		Instruction: "Tu récapitules une réservation.",
		Execute:     exec,
	}
}

func audioDescriptor(exec capability.Executor) capability.Descriptor {
	return capability.Descriptor{
		Name:        "audio",
		Description: "lecture de fichiers audio",
		Arguments: []capability.Argument{
			{Name: "file_path", Description: "le nom du fichier audio", Question: "Quel fichier audio veux-tu écouter ?", Required: true},
		},
		Instruction: "Tu aides à jouer des fichiers audio.",
		Execute:     exec,
	}
}

// playIfPresent reports a missing media file the way the audio capability does.
func playIfPresent(_ context.Context, inv capability.Invocation) (capability.Result, error) {
	name := inv.Args.Get("file_path")
	if _, err := os.Stat(filepath.Join(inv.Env.MediaDir, name)); err != nil {
		return capability.Outcome(map[string]any{
			"type":      "audio_error",
			"file_path": name,
			"error":     fmt.Sprintf("Le fichier '%s' n'existe pas.", name),
		}), nil
	}
	return capability.Outcome(map[string]any{"type": "audio_success", "file_path": name}), nil
}

func newRegistry(t *testing.T, descs ...capability.Descriptor) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(append(descs, smalltalkDescriptor())...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func newGateway(p llm.Provider) *gateway.Gateway {
	return gateway.New(p,
		gateway.WithTimeout(time.Second),
		gateway.WithRetry(resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond)),
		gateway.WithLogger(telemetry.DiscardLogger()),
	)
}

// argumentOf reads the argument an extraction prompt is about.
func argumentOf(system string) string {
	for _, line := range strings.Split(system, "\n") {
		if v, ok := strings.CutPrefix(line, "Information recherchée : "); ok {
			return v
		}
	}
	return ""
}

// extractor answers extraction requests per argument, in order, repeating
// the last answer. Unknown arguments get AUCUN.
func extractor(answers map[string][]string) llm.HandlerFunc {
	var mu sync.Mutex
	next := map[string]int{}
	return func(req llm.ChatRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		arg := argumentOf(req.System())
		list := answers[arg]
		if len(list) == 0 {
			return "AUCUN", nil
		}
		i := min(next[arg], len(list)-1)
		next[arg]++
		return list[i], nil
	}
}

func echoSynthesis(req llm.ChatRequest) (string, error) {
	return "SYNTH " + req.User(), nil
}

// extractedArguments lists, in order, the arguments extraction was asked about.
func extractedArguments(p *llm.RoutingMockProvider) []string {
	var out []string
	for _, c := range p.Calls(llm.PurposeExtract) {
		out = append(out, argumentOf(c.System()))
	}
	return out
}
