// Command tmws is the TMWS server and its bundled CLI: `serve` starts the
// session layer over stdio, WebSocket, or HTTP, and `agent`/`memory`
// subcommands are thin clients that dial the same Router.Dispatch in
// process, exactly as the teacher's interactive CLI mode calls its handler
// methods directly instead of going through a transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/apto-as/tmws/internal/config"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/tools"
)

const version = "1.0.0"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(config.ExitBadArgument)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tmws",
		Short:         "Trinitas Multi-Agent Workspace Server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newAgentCmd(), newMemoryCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var transport, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the session layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd.Context())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitCodeForBuildError(err))
			}
			defer app.Close()

			defaultAgent := ""
			if app.cfg.AllowDefaultAgent {
				defaultAgent = app.cfg.AgentID
			}

			switch transport {
			case "stdio":
				if err := app.router.ServeStdio("tmws", version, defaultAgent); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
			case "ws":
				mux := http.NewServeMux()
				mux.HandleFunc("/ws/mcp", app.router.HandleWebSocket)
				app.logger.Printf("websocket transport listening on %s", addr)
				if err := http.ListenAndServe(addr, mux); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
			case "http":
				mux := http.NewServeMux()
				mux.HandleFunc("/tools/", app.router.HandleHTTP)
				app.logger.Printf("http transport listening on %s", addr)
				if err := http.ListenAndServe(addr, mux); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
			default:
				return fmt.Errorf("unknown --transport %q, want stdio|ws|http", transport)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "stdio|ws|http")
	cmd.Flags().StringVar(&addr, "addr", ":8088", "listen address for the ws/http transports")
	return cmd
}

// exitCodeForBuildError classifies a build() failure per the exit-code
// contract: a validation failure from config.LoadFromEnv is a config
// error, anything else (relational/vector store open failure) is treated
// as the persistence layer being unreachable.
func exitCodeForBuildError(err error) int {
	var tErr *tmwserr.Error
	if errors.As(err, &tErr) {
		return config.ExitConfigError
	}
	return config.ExitDatabaseUnreachable
}

// dispatchOnce opens a throwaway session, authenticates it as agentID
// (when non-empty), dispatches one tool call, and tears the session back
// down -- the CLI equivalent of an ephemeral HTTP request.
func dispatchOnce(ctx context.Context, app *application, agentID, tool string, params any) tools.Response {
	sid := uuid.NewString()
	app.sessions.Open(sid)
	defer app.sessions.CloseSession(sid)

	if agentID != "" {
		if err := app.sessions.Authenticate(sid, agentID); err != nil {
			return tools.Response{Error: &tools.ErrorPayload{Code: string(tmwserr.CodeValidation), Message: err.Error()}}
		}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return tools.Response{Error: &tools.ErrorPayload{Code: string(tmwserr.CodeValidation), Message: err.Error()}}
	}
	return app.router.Dispatch(ctx, sid, tools.Request{Tool: tool, Params: raw})
}

// printResponse renders a dispatched Response as indented JSON on stdout,
// or the error payload on stderr with a non-zero exit.
func printResponse(resp tools.Response) {
	if resp.Error != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Error.Code, resp.Error.Message)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func buildOrExit(cmd *cobra.Command) *application {
	app, err := build(cmd.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForBuildError(err))
	}
	return app
}

func newAgentCmd() *cobra.Command {
	var asAgent string
	cmd := &cobra.Command{Use: "agent", Short: "inspect and manage agent identities"}
	cmd.PersistentFlags().StringVar(&asAgent, "agent", "", "agent identity the CLI session authenticates as")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list built-in and registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "list_trinitas_agents", struct{}{}))
			return nil
		},
	}

	var displayName, agentType, namespace, accessLevel string
	var persist bool
	registerCmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "register a new ephemeral or persisted agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			params := map[string]any{
				"agent_id":     args[0],
				"display_name": displayName,
				"agent_type":   agentType,
				"namespace":    namespace,
				"access_level": accessLevel,
				"persist":      persist,
			}
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "register_agent", params))
			return nil
		},
	}
	registerCmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name")
	registerCmd.Flags().StringVar(&agentType, "type", string(model.AgentCustom), "agent type")
	registerCmd.Flags().StringVar(&namespace, "namespace", model.DefaultNamespace, "agent namespace")
	registerCmd.Flags().StringVar(&accessLevel, "access-level", "standard", "readonly|standard|elevated|admin|system")
	registerCmd.Flags().BoolVar(&persist, "persist", false, "persist to storage (requires elevated access)")

	switchCmd := &cobra.Command{
		Use:   "switch <name>",
		Short: "switch the CLI session's current agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "switch_agent", map[string]any{"name": args[0]}))
			return nil
		},
	}

	cmd.AddCommand(listCmd, registerCmd, switchCmd)
	return cmd
}

func newMemoryCmd() *cobra.Command {
	var asAgent string
	cmd := &cobra.Command{Use: "memory", Short: "create, search, and recall memories"}
	cmd.PersistentFlags().StringVar(&asAgent, "agent", "", "agent identity the CLI session authenticates as")

	var tags []string
	var importance float64
	var accessLevel string
	putCmd := &cobra.Command{
		Use:   "put <content>",
		Short: "create a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			params := map[string]any{
				"content":      args[0],
				"tags":         tags,
				"importance":   importance,
				"access_level": accessLevel,
			}
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "create_memory", params))
			return nil
		},
	}
	putCmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	putCmd.Flags().Float64Var(&importance, "importance", 0.5, "importance in [0,1]")
	putCmd.Flags().StringVar(&accessLevel, "access-level", string(model.AccessPrivate), "private|team|shared|public")

	var limit int
	var minSimilarity float64
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "semantic search over memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			params := map[string]any{
				"query":          args[0],
				"limit":          limit,
				"min_similarity": minSimilarity,
			}
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "search_memories", params))
			return nil
		},
	}
	searchCmd.Flags().IntVar(&limit, "limit", 10, "max results")
	searchCmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "minimum cosine similarity")

	var order string
	var recallLimit, offset int
	recallCmd := &cobra.Command{
		Use:   "recall",
		Short: "list memories by non-semantic filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := buildOrExit(cmd)
			defer app.Close()
			params := map[string]any{
				"order":  order,
				"limit":  recallLimit,
				"offset": offset,
			}
			printResponse(dispatchOnce(cmd.Context(), app, asAgent, "recall_memories", params))
			return nil
		},
	}
	recallCmd.Flags().StringVar(&order, "order", string(model.OrderCreatedDesc), "created_desc|updated_desc|importance_desc")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 20, "page size")
	recallCmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	cmd.AddCommand(putCmd, searchCmd, recallCmd)
	return cmd
}
