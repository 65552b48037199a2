// Package mail serves the mail capability from a local JSON mailbox.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jllopis/concierge/pkg/capability"
)

const (
	idPrefix   = "msg_"
	previewLen = 80
)

// SummaryInstruction is the system prompt used to summarise one message.
const SummaryInstruction = `Tu es un assistant qui résume les emails de manière concise.
Tu dois extraire l'information principale et la présenter de façon claire en 2-3 phrases maximum.
Réponds en français de manière naturelle et concise.`

// Message is one stored mail.
type Message struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Body     string `json:"body"`
	Read     bool   `json:"read"`
}

// Preview is the listing view of a message.
type Preview struct {
	ID       string `json:"id"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Preview  string `json:"preview"`
	Read     bool   `json:"read"`
}

// Synthesis is the summary of one message.
type Synthesis struct {
	ID       string `json:"id"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Summary  string `json:"summary"`
}

type mailbox struct {
	Messages []Message `json:"messages"`
}

// Store is a JSON mailbox file. It is seeded with sample messages the
// first time it is used. Operations on the same Store are serialised.
type Store struct {
	mu   sync.Mutex
	path string
}

var (
	storesMu sync.Mutex
	stores   = map[string]*Store{}
)

// Open returns the shared Store for path.
func Open(path string) *Store {
	path = filepath.Clean(path)
	storesMu.Lock()
	defer storesMu.Unlock()
	if s, ok := stores[path]; ok {
		return s
	}
	s := &Store{path: path}
	stores[path] = s
	return s
}

// Execute runs the mail capability against the mailbox named by the
// invocation environment.
func Execute(ctx context.Context, inv capability.Invocation) (capability.Result, error) {
	path := "emails.json"
	var summarize capability.Summarizer
	if inv.Env != nil {
		if inv.Env.MailPath != "" {
			path = inv.Env.MailPath
		}
		summarize = inv.Env.Summarizer
	}
	s := Open(path)

	info := inv.Args.Get("email_info")
	switch action := strings.ToLower(strings.TrimSpace(inv.Args.Get("action"))); action {
	case "list", "lister", "voir", "afficher", "show":
		return s.List(), nil
	case "read", "lire", "ouvrir", "open":
		return s.Read(info), nil
	case "synthesize", "synthétiser", "synthetiser", "résumer", "resumer", "summary":
		return s.Synthesize(ctx, info, summarize), nil
	default:
		return failure(fmt.Sprintf("Action non reconnue: '%s'. Utilise: list, read, ou synthesize.", action)), nil
	}
}

// List returns every message, newest first, with an unread count.
func (s *Store) List() capability.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors du listing : %v", err))
	}
	msgs := append([]Message(nil), box.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Date > msgs[j].Date })

	previews := make([]Preview, 0, len(msgs))
	unread := 0
	for _, m := range msgs {
		if !m.Read {
			unread++
		}
		previews = append(previews, Preview{
			ID:       m.ID,
			FromName: firstNonEmpty(m.FromName, m.From),
			Subject:  firstNonEmpty(m.Subject, "Sans objet"),
			Date:     m.Date,
			Preview:  preview(m.Body),
			Read:     m.Read,
		})
	}
	return capability.Outcome(map[string]any{
		"type":         "mail_success",
		"action":       "list",
		"emails":       previews,
		"count":        len(previews),
		"unread_count": unread,
		"message":      fmt.Sprintf("Voici tes %d emails (%d non lus) :", len(previews), unread),
	})
}

// Read returns one message and marks it read.
func (s *Store) Read(id string) capability.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors de la lecture : %v", err))
	}
	i := box.find(id)
	if i < 0 {
		return failure(fmt.Sprintf("Aucun email trouvé avec l'ID '%s'.", strings.TrimSpace(id)))
	}
	box.Messages[i].Read = true
	if err := s.save(box); err != nil {
		return failure(fmt.Sprintf("Erreur lors de la lecture : %v", err))
	}

	m := box.Messages[i]
	return capability.Outcome(map[string]any{
		"type":    "mail_success",
		"action":  "read",
		"email":   m,
		"message": fmt.Sprintf("Voici le contenu du mail de %s :", firstNonEmpty(m.FromName, "Expéditeur")),
	})
}

// Synthesize summarises one message, or every unread one when target is
// empty, "tous" or "all". Summarised messages are marked read.
func (s *Store) Synthesize(ctx context.Context, target string, summarize capability.Summarizer) capability.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	box, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors de la synthèse : %v", err))
	}

	var picked []int
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "tous", "toutes", "all":
		for i, m := range box.Messages {
			if !m.Read {
				picked = append(picked, i)
			}
		}
		if len(picked) == 0 {
			return failure("Aucun email non lu à synthétiser.")
		}
	default:
		i := box.find(target)
		if i < 0 {
			return failure(fmt.Sprintf("Aucun email trouvé avec l'ID '%s'.", strings.TrimSpace(target)))
		}
		picked = []int{i}
	}

	syntheses := make([]Synthesis, 0, len(picked))
	for _, i := range picked {
		m := &box.Messages[i]
		syntheses = append(syntheses, Synthesis{
			ID:       m.ID,
			FromName: m.FromName,
			Subject:  m.Subject,
			Date:     m.Date,
			Summary:  summaryOf(ctx, summarize, m.Body),
		})
		m.Read = true
	}
	if err := s.save(box); err != nil {
		return failure(fmt.Sprintf("Erreur lors de la synthèse : %v", err))
	}

	return capability.Outcome(map[string]any{
		"type":      "mail_success",
		"action":    "synthesize",
		"syntheses": syntheses,
		"count":     len(syntheses),
		"message":   fmt.Sprintf("Voici la synthèse de %d email(s) :", len(syntheses)),
	})
}

// Messages returns a copy of the stored messages.
func (s *Store) Messages() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, err := s.load()
	if err != nil {
		return nil, err
	}
	return box.Messages, nil
}

func summaryOf(ctx context.Context, summarize capability.Summarizer, body string) string {
	if summarize == nil {
		return "Erreur lors de la synthèse: aucun modèle disponible"
	}
	out, err := summarize(ctx, SummaryInstruction, "Résume cet email:\n\n"+body)
	if err != nil {
		return fmt.Sprintf("Erreur lors de la synthèse: %v", err)
	}
	return strings.TrimSpace(out)
}

// find resolves an exact id or the numeric shorthand ("1" is msg_001).
func (b *mailbox) find(id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i, m := range b.Messages {
		if m.ID == id {
			return i
		}
	}
	if n, err := strconv.Atoi(id); err == nil && n >= 0 {
		padded := fmt.Sprintf("%s%03d", idPrefix, n)
		for i, m := range b.Messages {
			if m.ID == padded {
				return i
			}
		}
	}
	return -1
}

func (s *Store) load() (*mailbox, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		box := &mailbox{Messages: SampleMessages()}
		return box, s.save(box)
	}
	if err != nil {
		return nil, err
	}
	var box mailbox
	if err := json.Unmarshal(data, &box); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if len(box.Messages) == 0 {
		box.Messages = SampleMessages()
		return &box, s.save(&box)
	}
	return &box, nil
}

func (s *Store) save(box *mailbox) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(box, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func preview(body string) string {
	r := []rune(body)
	if len(r) > previewLen {
		body = string(r[:previewLen]) + "..."
	}
	return strings.ReplaceAll(body, "\n", " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func failure(msg string) capability.Result {
	return capability.Outcome(map[string]any{
		"type":    "mail_error",
		"message": msg,
	})
}
