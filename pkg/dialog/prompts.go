package dialog

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/transcript"
)

// NoCapability is the classification answer meaning "nothing matches".
const NoCapability = "none"

// Fixed replies.
const (
	ApologyReply     = "Oups, j'ai eu un souci interne, peux-tu réessayer ?"
	EmptyReply       = "Je t'écoute : que veux-tu faire ?"
	CancelledReply   = "D'accord, j'annule la demande en cours."
	NothingToCancel  = "Il n'y a aucune demande en cours."
	NotUnderstoodMsg = "Je n'ai pas compris."
	GiveUpReply      = "Je n'arrive pas à comprendre, j'abandonne cette demande. Tu peux la reformuler quand tu veux."
)

// DefaultCancelWords are the reserved utterances that abort a collection.
var DefaultCancelWords = []string{"reset", "annule", "annuler", "cancel"}

// DefaultMaxAttempts bounds unusable answers to one question.
const DefaultMaxAttempts = 3

var emptyAnswers = []string{"", "aucun", "aucune", "none", "null", "nil", "inconnu", "n/a", "na", "rien"}

func classifyPrompt(reg *capability.Registry) string {
	var b strings.Builder
	b.WriteString("Tu es un routeur d'intentions pour un assistant personnel.\n")
	b.WriteString("Compétences disponibles :\n")
	for _, d := range reg.List() {
		fmt.Fprintf(&b, "- %s : %s\n", d.Name, d.Description)
	}
	fmt.Fprintf(&b, "\nRéponds uniquement par le nom exact d'une compétence de la liste, sans autre mot. "+
		"Si aucune ne correspond, réponds %s.", NoCapability)
	return b.String()
}

func extractPrompt(d capability.Descriptor, arg capability.Argument, collected capability.Values) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tu extrais une seule information d'un message pour la compétence %q.\n", d.Name)
	fmt.Fprintf(&b, "Information recherchée : %s\n", arg.Name)
	fmt.Fprintf(&b, "Description : %s\n", arg.Description)
	if len(arg.Choices) > 0 {
		fmt.Fprintf(&b, "Valeurs possibles : %s\n", strings.Join(arg.ChoiceValues(), ", "))
	}
	if len(collected) > 0 {
		b.WriteString("Déjà connu :\n")
		names := make([]string, 0, len(collected))
		for k := range collected {
			names = append(names, k)
		}
		slices.Sort(names)
		for _, k := range names {
			fmt.Fprintf(&b, "- %s : %s\n", k, collected.Get(k))
		}
	}
	b.WriteString("\nRéponds uniquement par la valeur, sans phrase ni guillemets. ")
	b.WriteString("Si le message ne contient pas cette information, réponds AUCUN.")
	return b.String()
}

func synthesisContent(fields map[string]any, utterance string, history []transcript.Entry) (string, error) {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation récente :\n")
		for _, e := range history {
			fmt.Fprintf(&b, "%s : %s\n", e.Role, e.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Résultat :\n")
	b.Write(data)
	fmt.Fprintf(&b, "\n\nMessage de l'utilisateur : %s", utterance)
	return b.String(), nil
}

// cleanAnswer strips what models wrap around a bare answer.
func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'`«»")
	s = strings.TrimRight(s, ".!;")
	return strings.TrimSpace(s)
}

func isEmptyAnswer(s string) bool {
	return slices.Contains(emptyAnswers, strings.ToLower(s))
}

// reask repeats arg's question after an unusable answer. Closed arguments
// also spell out what is accepted.
func reask(arg capability.Argument) string {
	q := NotUnderstoodMsg + " " + arg.Question
	if len(arg.Choices) == 0 {
		return q
	}
	words := make([]string, 0, len(arg.Choices))
	for _, c := range arg.Choices {
		if len(c.Aliases) > 0 {
			words = append(words, c.Aliases[0])
		} else {
			words = append(words, c.Value)
		}
	}
	if len(words) == 1 {
		return q + " Réponds par : " + words[0] + "."
	}
	return q + " Réponds par : " + strings.Join(words[:len(words)-1], ", ") + " ou " + words[len(words)-1] + "."
}
