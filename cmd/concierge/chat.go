package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/concierge/internal/app"
)

var chatFlags struct {
	session string
	noColor bool
	watch   bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	Long: `Start an interactive session. Type 'quit' or 'exit' to leave and one of
the cancel words (reset, annule, annuler, cancel by default) to drop the
request in progress.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&chatFlags.session, "session", "", "session id (random when empty)")
	f.BoolVar(&chatFlags.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&chatFlags.watch, "watch", true, "reload the log level when the configuration file changes")
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if chatFlags.watch {
		if _, err := a.WatchConfig(cmd.Context()); err != nil {
			a.Logger.Warn("config watch disabled", "error", err)
		}
	}

	repl := &app.REPL{
		Session: a.Sessions.Session(chatFlags.session),
		In:      os.Stdin,
		Out:     cmd.OutOrStdout(),
		NoColor: chatFlags.noColor || color.NoColor,
	}
	return repl.Run(cmd.Context())
}
