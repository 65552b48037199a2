package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/concierge/internal/builtin"
	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/config"
)

var skillsCmd = &cobra.Command{
	Use:   "skills [dir]",
	Short: "List the capabilities and their arguments",
	Long: `List the built-in capabilities, overlaid by the SKILL.md manifests found
in dir (or skills.dir from the configuration). Optional arguments are marked
with '?' and arguments that depend on another one with '*'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSkills,
}

func runSkills(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.LoadWithOverrides(global.configPath, global.profile, global.sets)
		if err != nil {
			return err
		}
		dir = cfg.Skills.Dir
	}

	reg, err := builtin.Registry(dir)
	if err != nil {
		return err
	}

	name := color.New(color.FgCyan, color.Bold).SprintFunc()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tARGUMENTS\tDESCRIPTION")
	for _, d := range reg.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", name(d.Name), argumentList(d.Arguments), d.Description)
	}
	return w.Flush()
}

func argumentList(args []capability.Argument) string {
	names := make([]string, 0, len(args))
	for _, a := range args {
		n := a.Name
		if !a.Required {
			n += "?"
		}
		if len(a.DependsOn) > 0 {
			n += "*"
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
