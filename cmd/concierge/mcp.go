package main

import (
	"github.com/spf13/cobra"

	"github.com/jllopis/concierge/internal/app"
	"github.com/jllopis/concierge/pkg/mcp"
)

var mcpFlags struct {
	http string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve sessions as MCP tools",
	Long: `Expose the assistant to MCP clients with two tools: converse, which
sends one utterance to a session, and reset, which drops a session's request
and history. Stdio is used unless --http is given.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpFlags.http, "http", "", "serve streamable HTTP on this address instead of stdio")
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	srv := mcp.NewServer(app.ServiceName, version, a.Sessions, a.Logger)
	if mcpFlags.http != "" {
		a.Logger.Info("serving MCP over HTTP", "addr", mcpFlags.http)
		return srv.ServeStreamableHTTP(mcpFlags.http)
	}
	return srv.ServeStdio()
}
