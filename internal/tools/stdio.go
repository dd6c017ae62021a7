package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/apto-as/tmws/internal/tmwserr"
)

// stdioSessionID is the fixed session id bound to the one embedded client a
// stdio transport serves, per spec.md §4.G ("stdio: single embedded
// client, one session per process").
const stdioSessionID = "stdio"

// ServeStdio registers every Table entry as an mcp-go tool and blocks
// serving stdin/stdout, grounded directly on the teacher's main.go
// (server.NewMCPServer / mcp.NewTool / s.AddTool / server.ServeStdio).
// Each tool takes a single "params" string argument carrying the
// JSON-encoded request body, since the dispatch table's handlers already
// decode their own typed params from raw JSON -- mcp-go's per-argument
// schema only needs to carry that envelope, not re-declare every tool's
// shape. When defaultAgentID is non-empty (TMWS_ALLOW_DEFAULT_AGENT plus
// TMWS_AGENT_ID), the stdio session is pre-authenticated as that agent so
// a client embedded over one stdio pipe does not have to call switch_agent
// before its first real request.
func (r *Router) ServeStdio(name, version, defaultAgentID string) error {
	r.sessions.Open(stdioSessionID)
	if defaultAgentID != "" {
		if err := r.sessions.Authenticate(stdioSessionID, defaultAgentID); err != nil {
			return fmt.Errorf("authenticate default agent %q: %w", defaultAgentID, err)
		}
	}

	s := server.NewMCPServer(name, version)
	for toolName := range r.table {
		tool := mcp.NewTool(toolName,
			mcp.WithDescription(fmt.Sprintf("TMWS tool %q", toolName)),
			mcp.WithString("params", mcp.Description("JSON-encoded tool parameters")),
		)
		s.AddTool(tool, r.stdioHandlerFor(toolName))
	}
	return server.ServeStdio(s)
}

func (r *Router) stdioHandlerFor(toolName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		var raw json.RawMessage
		if s, ok := args["params"].(string); ok && s != "" {
			raw = json.RawMessage(s)
		}

		resp := r.Dispatch(ctx, stdioSessionID, Request{Tool: toolName, Params: raw})
		if resp.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", resp.Error.Code, resp.Error.Message)), nil
		}
		out, err := json.Marshal(resp.Result)
		if err != nil {
			return mcp.NewToolResultError(tmwserr.Internal(err).Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
