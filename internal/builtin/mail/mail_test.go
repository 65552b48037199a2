package mail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jllopis/concierge/pkg/capability"
)

func newEnv(t *testing.T, summarize capability.Summarizer) *capability.Env {
	t.Helper()
	return &capability.Env{
		MailPath:   filepath.Join(t.TempDir(), "data", "emails.json"),
		Summarizer: summarize,
	}
}

func run(t *testing.T, env *capability.Env, action, info string) capability.Result {
	t.Helper()
	inv := capability.Invocation{
		Capability: "mail",
		Args:       capability.Values{"action": capability.Text(action), "email_info": capability.Text(info)},
		Env:        env,
	}
	res, err := Execute(context.Background(), inv)
	if err != nil {
		t.Fatalf("Execute(%s): %v", action, err)
	}
	return res
}

func readFlags(t *testing.T, env *capability.Env) map[string]bool {
	t.Helper()
	msgs, err := Open(env.MailPath).Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	out := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m.Read
	}
	return out
}

func TestReadByShorthandMarksRead(t *testing.T) {
	env := newEnv(t, nil)
	if readFlags(t, env)["msg_001"] {
		t.Fatal("msg_001 should start unread")
	}

	res := run(t, env, "read", "1")
	if res.Discriminator() != "mail_success" {
		t.Fatalf("unexpected result %+v", res.Fields())
	}
	m, ok := res.Fields()["email"].(Message)
	if !ok || m.ID != "msg_001" || !m.Read {
		t.Fatalf("email = %+v", res.Fields()["email"])
	}
	if res.Field("message") != "Voici le contenu du mail de Prof. Martin :" {
		t.Errorf("message = %q", res.Field("message"))
	}
	if !readFlags(t, env)["msg_001"] {
		t.Error("msg_001 must be persisted as read")
	}
}

func TestReadUnknown(t *testing.T) {
	env := newEnv(t, nil)
	for _, id := range []string{"42", "msg_999", "abc"} {
		if res := run(t, env, "lire", id); !res.Failed() {
			t.Errorf("read %q should fail", id)
		}
	}
}

func TestList(t *testing.T) {
	env := newEnv(t, nil)
	res := run(t, env, "lister", "")
	previews, ok := res.Fields()["emails"].([]Preview)
	if !ok || len(previews) != 8 {
		t.Fatalf("unexpected result %+v", res.Fields())
	}
	if previews[0].ID != "msg_001" || previews[7].ID != "msg_008" {
		t.Errorf("order = %s .. %s", previews[0].ID, previews[7].ID)
	}
	if res.Fields()["unread_count"] != 5 {
		t.Errorf("unread_count = %v", res.Fields()["unread_count"])
	}
	for _, p := range previews {
		if strings.Contains(p.Preview, "\n") || len([]rune(p.Preview)) > previewLen+3 {
			t.Errorf("bad preview for %s: %q", p.ID, p.Preview)
		}
	}
	if res.Field("message") != "Voici tes 8 emails (5 non lus) :" {
		t.Errorf("message = %q", res.Field("message"))
	}
}

func TestSynthesizeAllUnread(t *testing.T) {
	var calls atomic.Int32
	summarize := func(_ context.Context, instruction, content string) (string, error) {
		calls.Add(1)
		if instruction != SummaryInstruction || !strings.HasPrefix(content, "Résume cet email:") {
			return "", errors.New("unexpected prompt")
		}
		return " résumé ", nil
	}
	env := newEnv(t, summarize)

	res := run(t, env, "synthesize", "tous")
	if res.Discriminator() != "mail_success" {
		t.Fatalf("unexpected result %+v", res.Fields())
	}
	syntheses := res.Fields()["syntheses"].([]Synthesis)
	if len(syntheses) != 5 || calls.Load() != 5 {
		t.Fatalf("syntheses = %d, calls = %d", len(syntheses), calls.Load())
	}
	if syntheses[0].Summary != "résumé" {
		t.Errorf("summary = %q", syntheses[0].Summary)
	}
	for id, read := range readFlags(t, env) {
		if !read {
			t.Errorf("%s still unread", id)
		}
	}

	res = run(t, env, "résumer", "")
	if res.Field("message") != "Aucun email non lu à synthétiser." {
		t.Errorf("message = %q", res.Field("message"))
	}
}

func TestSynthesizeOneWithFailingModel(t *testing.T) {
	env := newEnv(t, func(context.Context, string, string) (string, error) {
		return "", errors.New("model down")
	})
	res := run(t, env, "synthesize", "msg_006")
	syntheses := res.Fields()["syntheses"].([]Synthesis)
	if len(syntheses) != 1 || syntheses[0].ID != "msg_006" {
		t.Fatalf("syntheses = %+v", syntheses)
	}
	if !strings.Contains(syntheses[0].Summary, "model down") {
		t.Errorf("summary = %q", syntheses[0].Summary)
	}
}

func TestConcurrentReads(t *testing.T) {
	env := newEnv(t, nil)
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inv := capability.Invocation{
				Args: capability.Values{"action": capability.Text("read"), "email_info": capability.Text(fmt.Sprint(n))},
				Env:  env,
			}
			if _, err := Execute(context.Background(), inv); err != nil {
				t.Errorf("read %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()
	for id, read := range readFlags(t, env) {
		if !read {
			t.Errorf("%s lost its read flag", id)
		}
	}
}

func TestUnknownAction(t *testing.T) {
	if res := run(t, newEnv(t, nil), "effacer", ""); !res.Failed() {
		t.Error("unknown action must fail")
	}
}
