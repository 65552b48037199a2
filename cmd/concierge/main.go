// Command concierge is a French-speaking conversational assistant that
// routes requests to capabilities and collects their arguments turn by turn.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/jllopis/concierge/internal/app"
)

var version = "dev"

type globalFlags struct {
	configPath string
	profile    string
	sets       []string
}

var global globalFlags

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "Conversational assistant with slot-filling capabilities",
	Long: `Concierge routes each utterance to a capability (audio, files, calendar,
mail, booking, weather or small talk), asks for the missing information and
runs the capability once everything is known.

Configuration is read from defaults, the --config YAML file, CONCIERGE_*
environment variables and --set key=value overrides, in that order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&global.configPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVar(&global.profile, "profile", "", "profile overlay (config.<profile>.yaml next to --config)")
	flags.StringArrayVar(&global.sets, "set", nil, "override a setting, e.g. --set llm.model=mistral")

	rootCmd.AddCommand(chatCmd, mcpCmd, skillsCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() (*app.App, error) {
	return app.New(app.Options{
		ConfigPath: global.configPath,
		Profile:    global.profile,
		Sets:       global.sets,
		Version:    version,
	})
}
