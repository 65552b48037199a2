package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jllopis/concierge/pkg/dialog"
)

// Greeting lines printed when the chat starts.
var Greeting = []string{
	"Salut !",
	"Tu peux me demander de jouer un audio, créer un fichier, gérer ton calendrier, consulter tes emails, réserver un restaurant ou juste discuter.",
	"Tape 'quit' pour arrêter, ou 'reset' pour annuler une demande en cours.",
}

// Farewell is printed when the user leaves.
const Farewell = "À bientôt !"

// REPL reads utterances line by line and prints the replies of one session.
type REPL struct {
	Session *dialog.Session
	In      io.Reader
	Out     io.Writer
	// NoColor disables ANSI colors.
	NoColor bool
}

// Run loops until the input ends, the user types quit or exit, or ctx is
// cancelled.
func (r *REPL) Run(ctx context.Context) error {
	user := color.New(color.FgCyan, color.Bold)
	assistant := color.New(color.FgGreen, color.Bold)
	hint := color.New(color.FgHiBlack)
	if r.NoColor {
		user.DisableColor()
		assistant.DisableColor()
		hint.DisableColor()
	}

	say := func(text string) {
		assistant.Fprint(r.Out, "Assistant: ")
		fmt.Fprintln(r.Out, text)
	}

	say(Greeting[0])
	for _, line := range Greeting[1:] {
		hint.Fprintln(r.Out, line)
	}
	fmt.Fprintln(r.Out)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		user.Fprint(r.Out, "Utilisateur: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.Out)
			say(Farewell)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.Out)
				say(Farewell)
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "quit", "exit":
			say(Farewell)
			return nil
		}
		say(r.Session.HandleTurn(ctx, line))
	}
}
