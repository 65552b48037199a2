// Package mcp exposes Concierge sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/concierge/pkg/dialog"
)

// Tool names served by Server.
const (
	ToolConverse = "converse"
	ToolReset    = "reset"
)

// Server wraps the mcp-go server around a session manager.
type Server struct {
	mcpServer *server.MCPServer
	sessions  *dialog.Manager
	logger    *slog.Logger
}

// TurnResult is the JSON payload returned by the converse tool.
type TurnResult struct {
	SessionID  string `json:"session_id"`
	Reply      string `json:"reply"`
	Capability string `json:"capability,omitempty"`
	Phase      string `json:"phase"`
}

// NewServer creates an MCP server whose tools drive sessions.
func NewServer(name, version string, sessions *dialog.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		sessions: sessions,
		logger:   logger.With(slog.String("component", "mcp")),
	}
	s.mcpServer.AddTool(mcp.NewTool(ToolConverse,
		mcp.WithDescription("Send one user utterance to a Concierge session and get the assistant reply."),
		mcp.WithString("utterance", mcp.Required(), mcp.Description("What the user said.")),
		mcp.WithString("session_id", mcp.Description("Session to continue. Omit to open a new one.")),
	), s.handleConverse)
	s.mcpServer.AddTool(mcp.NewTool(ToolReset,
		mcp.WithDescription("Drop the request in progress and the history of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to reset.")),
	), s.handleReset)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP starts the server over streamable HTTP on addr.
func (s *Server) ServeStreamableHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
}

func (s *Server) handleConverse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	utterance, err := request.RequireString("utterance")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := strings.TrimSpace(request.GetString("session_id", ""))

	id, reply := s.sessions.HandleTurn(ctx, id, utterance)
	st := s.sessions.Session(id).State()
	out := TurnResult{
		SessionID:  id,
		Reply:      reply,
		Capability: st.Capability,
		Phase:      st.Phase.String(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "turn served", slog.String("session_id", id), slog.String("phase", out.Phase))
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.sessions.Reset(ctx, id) {
		return mcp.NewToolResultError("unknown session " + id), nil
	}
	return mcp.NewToolResultText("ok"), nil
}
