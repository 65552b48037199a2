package dialog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/concierge/pkg/capability"
	cerrors "github.com/jllopis/concierge/pkg/errors"
	"github.com/jllopis/concierge/pkg/llm"
	"github.com/jllopis/concierge/pkg/telemetry"
)

func newMachine(p llm.Provider, maxAttempts int) *Machine {
	return NewMachine(newGateway(p), &capability.Env{}, maxAttempts, telemetry.DiscardLogger(), nil)
}

func begin(d capability.Descriptor) *State {
	st := NewState()
	st.Begin(d.Name)
	return st
}

func sortedKeys(vs capability.Values) []string {
	keys := make([]string, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func TestAdvanceFirstTurnIsGreedy(t *testing.T) {
	rec := &recorder{}
	d := calendarDescriptor(rec.exec(capability.Outcome(map[string]any{
		"type":    "calendar_success",
		"message": "L'événement 'Dentiste' a été ajouté.",
	})))
	p := llm.NewRoutingMockProvider().
		On(llm.PurposeExtract, extractor(map[string][]string{
			"action":     {"ajouter"},
			"event_info": {"Dentiste | demain | 14h30 | contrôle"},
		})).
		On(llm.PurposeSynthesize, echoSynthesis)
	m := newMachine(p, 0)
	st := begin(d)
	ctx := context.Background()

	step, err := m.Advance(ctx, d, st, "ajoute Dentiste demain à 14h30", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !step.Ready || st.Phase != PhaseReady {
		t.Fatalf("expected ready after one turn, got %+v phase %s", step, st.Phase)
	}
	want := map[string]string{"action": "add", "event_info": "Dentiste | demain | 14h30 | contrôle"}
	if diff := cmp.Diff(want, st.Values.Strings()); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	c, err := m.Complete(ctx, d, st, "ajoute Dentiste demain à 14h30", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("executor ran %d times, want 1", rec.count())
	}
	if !strings.HasPrefix(c.Reply, "SYNTH ") || !strings.Contains(c.Reply, "calendar_success") {
		t.Errorf("reply was not synthesized from the outcome: %q", c.Reply)
	}
	if st.Phase != PhaseDone || st.InProgress() || len(st.Values) != 0 {
		t.Errorf("state not at rest after completion: %+v", st)
	}
}

func TestAdvanceStopsAtFirstUnusableArgument(t *testing.T) {
	d := bookingDescriptor(nil)
	p := llm.NewRoutingMockProvider().On(llm.PurposeExtract, extractor(map[string][]string{
		"restaurant_name": {"Chez Luigi"},
		"time":            {"20h"},
	}))
	m := newMachine(p, 0)
	st := begin(d)

	step, err := m.Advance(context.Background(), d, st, "réserve chez Luigi à 20h", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if step.Ready || step.Question != "Pour quel jour ?" {
		t.Errorf("unexpected step %+v", step)
	}
	if st.Pending != "date" {
		t.Errorf("pending = %q", st.Pending)
	}
	if diff := cmp.Diff([]string{"restaurant_name", "date"}, extractedArguments(p)); diff != "" {
		t.Errorf("extraction order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"restaurant_name"}, sortedKeys(st.Values)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestDependentArgumentNeverAskedBeforeController(t *testing.T) {
	tests := []struct {
		answer   string
		action   string
		wantArgs []string
	}{
		{"ajouter", "add", []string{"action", "event_info"}},
		{"supprimer", "remove", []string{"action", "event_info"}},
		{"modifier", "edit", []string{"action", "event_info"}},
		{"lister", "list", []string{"action"}},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			rec := &recorder{}
			d := calendarDescriptor(rec.exec(capability.Outcome(map[string]any{"type": "calendar_success"})))
			p := llm.NewRoutingMockProvider().
				On(llm.PurposeExtract, func(req llm.ChatRequest) (string, error) {
					switch argumentOf(req.System()) {
					case "action":
						if req.User() == tt.answer {
							return tt.answer, nil
						}
						return "AUCUN", nil
					case "event_info":
						return "evt_1", nil
					}
					return "AUCUN", nil
				}).
				On(llm.PurposeSynthesize, echoSynthesis)
			m := newMachine(p, 0)
			st := begin(d)
			ctx := context.Background()

			step, err := m.Advance(ctx, d, st, "calendrier", true)
			if err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if step.Question != "Que veux-tu faire avec le calendrier ?" {
				t.Fatalf("first question = %q", step.Question)
			}
			for _, arg := range extractedArguments(p) {
				if arg == "event_info" {
					t.Fatal("event_info extracted before action was known")
				}
			}

			for turn := 0; !step.Ready && turn < 3; turn++ {
				if st.Pending == "event_info" && !st.Values.Has("action") {
					t.Fatal("event_info asked before action")
				}
				utterance := tt.answer
				if st.Pending == "event_info" {
					utterance = "evt_1"
				}
				if step, err = m.Advance(ctx, d, st, utterance, false); err != nil {
					t.Fatalf("Advance: %v", err)
				}
			}
			if !step.Ready {
				t.Fatalf("collection did not finish: %+v", st)
			}
			if _, err := m.Complete(ctx, d, st, "ok", nil); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if rec.count() != 1 {
				t.Fatalf("executor ran %d times", rec.count())
			}
			if diff := cmp.Diff(tt.wantArgs, sortedKeys(rec.last())); diff != "" {
				t.Errorf("executor arguments mismatch (-want +got):\n%s", diff)
			}
			if got := rec.last().Get("action"); got != tt.action {
				t.Errorf("action = %q, want %q", got, tt.action)
			}
		})
	}
}

func TestUnusableAnswersAreBounded(t *testing.T) {
	d := bookingDescriptor(nil)
	p := llm.NewRoutingMockProvider().Reply(llm.PurposeExtract, "AUCUN")
	m := newMachine(p, 3)
	st := begin(d)
	ctx := context.Background()

	step, err := m.Advance(ctx, d, st, "réserve une table", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if step.Question != "Dans quel restaurant veux-tu réserver ?" {
		t.Fatalf("first question = %q", step.Question)
	}

	for i, utterance := range []string{"euh", "bof"} {
		step, err = m.Advance(ctx, d, st, utterance, false)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		want := NotUnderstoodMsg + " Dans quel restaurant veux-tu réserver ?"
		if step.Question != want {
			t.Errorf("re-ask %d = %q, want %q", i, step.Question, want)
		}
		if st.Attempts != i+1 || st.Pending != "restaurant_name" {
			t.Errorf("attempts = %d pending = %q", st.Attempts, st.Pending)
		}
	}

	step, err = m.Advance(ctx, d, st, "hmm", false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !step.Abandoned || step.Question != GiveUpReply {
		t.Fatalf("expected the request to be abandoned, got %+v", step)
	}
	if st.Phase != PhaseIdle || st.Capability != "" || len(st.Values) != 0 {
		t.Errorf("state not back at rest: %+v", st)
	}
}

func TestClosedChoiceNeverTakesAnUnlistedAnswer(t *testing.T) {
	tests := []struct {
		name      string
		last      string
		abandoned bool
		action    string
	}{
		{"unlisted answer", "danser la salsa", true, ""},
		{"literal alias", "ajouter", false, "add"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d := calendarDescriptor(rec.exec(capability.Reply("ok")))
			p := llm.NewRoutingMockProvider().Reply(llm.PurposeExtract, "AUCUN")
			m := newMachine(p, 3)
			st := begin(d)
			ctx := context.Background()

			if _, err := m.Advance(ctx, d, st, "calendrier", true); err != nil {
				t.Fatalf("Advance: %v", err)
			}
			var step Step
			var err error
			for i, utterance := range []string{"euh", "bof"} {
				if step, err = m.Advance(ctx, d, st, utterance, false); err != nil {
					t.Fatalf("Advance: %v", err)
				}
				want := NotUnderstoodMsg + " Que veux-tu faire avec le calendrier ? Réponds par : ajouter, supprimer, modifier ou lister."
				if step.Question != want {
					t.Errorf("re-ask %d = %q, want %q", i, step.Question, want)
				}
			}

			if step, err = m.Advance(ctx, d, st, tt.last, false); err != nil {
				t.Fatalf("Advance: %v", err)
			}
			if step.Abandoned != tt.abandoned {
				t.Fatalf("abandoned = %v, want %v (%+v)", step.Abandoned, tt.abandoned, st)
			}
			if step.Ready {
				t.Fatal("collection must not finish before event_info")
			}
			if got := st.Values.Get("action"); got != tt.action {
				t.Errorf("action = %q, want %q", got, tt.action)
			}
			if tt.abandoned {
				if st.Phase != PhaseIdle {
					t.Errorf("phase = %s", st.Phase)
				}
				return
			}
			if st.Pending != "event_info" || step.Question != "Donne-moi les détails nécessaires pour cette action." {
				t.Errorf("dependent argument not asked next: %+v pending %q", step, st.Pending)
			}
			if rec.count() != 0 {
				t.Errorf("executor ran %d times", rec.count())
			}
		})
	}
}

func TestAnswerOutsideChoicesIsUnusable(t *testing.T) {
	d := calendarDescriptor(nil)
	p := llm.NewRoutingMockProvider().Sequence(llm.PurposeExtract, "AUCUN", "danser", "lister")
	m := newMachine(p, 3)
	st := begin(d)
	ctx := context.Background()

	if _, err := m.Advance(ctx, d, st, "calendrier", true); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	step, err := m.Advance(ctx, d, st, "danser", false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !strings.HasPrefix(step.Question, NotUnderstoodMsg) || st.Values.Has("action") {
		t.Errorf("invalid choice accepted: %+v %v", step, st.Values)
	}
	step, err = m.Advance(ctx, d, st, "lister", false)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !step.Ready || st.Values.Get("action") != "list" {
		t.Errorf("expected canonical list, got %+v %v", step, st.Values.Strings())
	}
}

func TestOptionalArgumentPolicy(t *testing.T) {
	answers := map[string][]string{
		"restaurant_name": {"Chez Luigi"},
		"date":            {"demain"},
		"time":            {"20h"},
		"people":          {"4"},
	}
	utterance := "réserve chez Luigi demain à 20h pour 4"

	t.Run("skip after prompt", func(t *testing.T) {
		rec := &recorder{}
		d := bookingDescriptor(rec.exec(capability.Reply("ok")))
		p := llm.NewRoutingMockProvider().On(llm.PurposeExtract, extractor(answers))
		m := newMachine(p, 3)
		st := begin(d)
		ctx := context.Background()

		step, err := m.Advance(ctx, d, st, utterance, true)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if step.Question != "Une demande particulière ?" {
			t.Fatalf("optional argument must be asked once, got %+v", step)
		}
		step, err = m.Advance(ctx, d, st, "non merci", false)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if !step.Ready || !st.Skipped["notes"] {
			t.Fatalf("optional argument not skipped: %+v", st)
		}
		c, err := m.Complete(ctx, d, st, "non merci", nil)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if c.Reply != "ok" {
			t.Errorf("literal reply altered: %q", c.Reply)
		}
		if rec.last().Has("notes") {
			t.Error("skipped argument leaked into the executor")
		}
		if n := len(p.Calls(llm.PurposeSynthesize)); n != 0 {
			t.Errorf("literal replies bypass synthesis, got %d calls", n)
		}
	})

	t.Run("ask until answered", func(t *testing.T) {
		d := bookingDescriptor(nil)
		d.Optional = capability.AskUntilAnswered
		p := llm.NewRoutingMockProvider().On(llm.PurposeExtract, extractor(answers))
		m := newMachine(p, 3)
		st := begin(d)
		ctx := context.Background()

		if _, err := m.Advance(ctx, d, st, utterance, true); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		step, err := m.Advance(ctx, d, st, "non merci", false)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if step.Ready || !strings.HasPrefix(step.Question, NotUnderstoodMsg) {
			t.Errorf("optional argument should be asked again, got %+v", step)
		}
	})
}

func TestZeroArgumentCapabilityIsReadyAtOnce(t *testing.T) {
	d := capability.Descriptor{
		Name:        "ping",
		Description: "test",
		Execute: func(context.Context, capability.Invocation) (capability.Result, error) {
			return capability.Reply("pong"), nil
		},
	}
	p := llm.NewRoutingMockProvider()
	m := newMachine(p, 0)
	st := begin(d)

	step, err := m.Advance(context.Background(), d, st, "ping", true)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !step.Ready || step.Question != "" {
		t.Fatalf("expected ready without a question, got %+v", step)
	}
	c, err := m.Complete(context.Background(), d, st, "ping", nil)
	if err != nil || c.Reply != "pong" {
		t.Fatalf("Complete = %q, %v", c.Reply, err)
	}
	if n := len(p.Calls("")); n != 0 {
		t.Errorf("no backend call expected, got %d", n)
	}
}

func TestCompleteWithoutExecutorUsesValues(t *testing.T) {
	d := capability.Descriptor{
		Name:        "note",
		Description: "prendre une note",
		Arguments: []capability.Argument{
			{Name: "text", Description: "le texte", Question: "Que dois-je noter ?", Required: true},
		},
		Instruction: "Confirme la note.",
	}
	p := llm.NewRoutingMockProvider().
		Reply(llm.PurposeExtract, "acheter du pain").
		On(llm.PurposeSynthesize, echoSynthesis)
	m := newMachine(p, 0)
	st := begin(d)
	ctx := context.Background()

	if _, err := m.Advance(ctx, d, st, "note: acheter du pain", true); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	c, err := m.Complete(ctx, d, st, "note: acheter du pain", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	calls := p.Calls(llm.PurposeSynthesize)
	if len(calls) != 1 {
		t.Fatalf("expected one synthesis, got %d", len(calls))
	}
	if calls[0].System() != "Confirme la note." {
		t.Errorf("synthesis instruction = %q", calls[0].System())
	}
	for _, want := range []string{`"text": "acheter du pain"`, "Message de l'utilisateur : note: acheter du pain"} {
		if !strings.Contains(calls[0].User(), want) {
			t.Errorf("synthesis content misses %q:\n%s", want, calls[0].User())
		}
	}
	if c.Result.Kind() != capability.ResultOutcome {
		t.Errorf("result kind = %s", c.Result.Kind())
	}
}

func TestSynthesisFailureDegrades(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"message", map[string]any{"type": "file_success", "message": "Le fichier 'notes.txt' a été créé."}, "Le fichier 'notes.txt' a été créé."},
		{"error", map[string]any{"type": "file_error", "error": "Disque plein."}, "Disque plein."},
		{"nothing", map[string]any{"type": "file_success"}, ApologyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d := capability.Descriptor{Name: "file", Description: "fichiers", Execute: rec.exec(capability.Outcome(tt.fields))}
			p := llm.NewRoutingMockProvider().On(llm.PurposeSynthesize, func(llm.ChatRequest) (string, error) {
				return "", errors.New("backend down")
			})
			m := newMachine(p, 0)
			st := begin(d)
			ctx := context.Background()
			if _, err := m.Advance(ctx, d, st, "crée le fichier", true); err != nil {
				t.Fatalf("Advance: %v", err)
			}
			c, err := m.Complete(ctx, d, st, "crée le fichier", nil)
			if err != nil {
				t.Fatalf("Complete must not fail on synthesis errors: %v", err)
			}
			if c.Reply != tt.want || !c.Degraded {
				t.Errorf("reply = %q degraded = %v, want %q", c.Reply, c.Degraded, tt.want)
			}
			if rec.count() != 1 {
				t.Errorf("executor ran %d times", rec.count())
			}
			if st.InProgress() {
				t.Error("episode must complete once the executor ran")
			}
		})
	}
}

func TestExecutorFailures(t *testing.T) {
	tests := []struct {
		name string
		exec capability.Executor
	}{
		{"error", func(context.Context, capability.Invocation) (capability.Result, error) {
			return capability.Result{}, errors.New("disk on fire")
		}},
		{"panic", func(context.Context, capability.Invocation) (capability.Result, error) {
			panic("boom")
		}},
		{"zero result", func(context.Context, capability.Invocation) (capability.Result, error) {
			return capability.Result{}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := capability.Descriptor{Name: "broken", Description: "test", Execute: tt.exec}
			m := newMachine(llm.NewRoutingMockProvider(), 0)
			st := begin(d)
			ctx := context.Background()
			if _, err := m.Advance(ctx, d, st, "go", true); err != nil {
				t.Fatalf("Advance: %v", err)
			}
			_, err := m.Complete(ctx, d, st, "go", nil)
			if !cerrors.IsCode(err, cerrors.CodeCapabilityFailure) {
				t.Errorf("expected CAPABILITY_FAILURE, got %v", err)
			}
			if st.InProgress() {
				t.Error("state must be at rest after a failed execution")
			}
		})
	}
}

func TestExtractionPromptCarriesContext(t *testing.T) {
	d := bookingDescriptor(nil)
	p := llm.NewRoutingMockProvider().On(llm.PurposeExtract, extractor(map[string][]string{
		"restaurant_name": {"Chez Luigi"},
	}))
	m := newMachine(p, 0)
	st := begin(d)

	if _, err := m.Advance(context.Background(), d, st, "table chez Luigi", true); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	calls := p.Calls(llm.PurposeExtract)
	if len(calls) != 2 {
		t.Fatalf("expected 2 extraction calls, got %d", len(calls))
	}
	second := calls[1]
	for _, want := range []string{"Information recherchée : date", "Description : la date", "- restaurant_name : Chez Luigi", "AUCUN"} {
		if !strings.Contains(second.System(), want) {
			t.Errorf("extraction prompt misses %q:\n%s", want, second.System())
		}
	}
	if second.User() != "table chez Luigi" {
		t.Errorf("user content = %q", second.User())
	}
}

func TestExtractionErrorIsReturned(t *testing.T) {
	d := bookingDescriptor(nil)
	p := llm.NewRoutingMockProvider().On(llm.PurposeExtract, func(llm.ChatRequest) (string, error) {
		return "", errors.New("connection reset")
	})
	m := newMachine(p, 0)
	st := begin(d)
	if _, err := m.Advance(context.Background(), d, st, "réserve", true); !cerrors.IsCode(err, cerrors.CodeLLMError) {
		t.Errorf("expected LLM_ERROR, got %v", err)
	}
}

func TestDomainErrorIsSynthesizedAndLogged(t *testing.T) {
	d := calendarDescriptor(func(context.Context, capability.Invocation) (capability.Result, error) {
		return capability.Outcome(map[string]any{"type": "calendar_error", "error": "fichier illisible"}), nil
	})
	p := llm.NewRoutingMockProvider().
		Reply(llm.PurposeExtract, "lister").
		Reply(llm.PurposeSynthesize, "Je n'ai pas pu lire ton calendrier.")
	var logs bytes.Buffer
	m := NewMachine(newGateway(p), &capability.Env{}, 3, slog.New(slog.NewTextHandler(&logs, nil)), nil)
	st := begin(d)
	ctx := context.Background()

	step, err := m.Advance(ctx, d, st, "liste mes rdv", true)
	if err != nil || !step.Ready {
		t.Fatalf("Advance = %+v, %v", step, err)
	}
	c, err := m.Complete(ctx, d, st, "liste mes rdv", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !c.Result.Failed() || c.Reply != "Je n'ai pas pu lire ton calendrier." {
		t.Errorf("unexpected completion %+v", c)
	}
	if !strings.Contains(logs.String(), "capability reported an error") ||
		!strings.Contains(logs.String(), "fichier illisible") {
		t.Errorf("domain error not logged:\n%s", logs.String())
	}
}
