package tools

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"time"

	"github.com/apto-as/tmws/internal/memory"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/session"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// RequestDeadline bounds one tool call, per spec.md §5's default 30s
// suspension-point deadline.
const RequestDeadline = 30 * time.Second

// Router owns the static dispatch table and funnels every transport
// (stdio, WebSocket, HTTP) through the same Dispatch call, which
// serializes requests from one session in arrival order by running the
// handler inside the session's single-writer lock -- the same lock
// internal/registry's Switch/ExecuteAs already expect a caller to hold.
type Router struct {
	sessions *session.Manager
	reg      *registry.Registry
	mem      *memory.Service
	logger   *log.Logger
	table    Table
}

// NewRouter wires a Router and builds its dispatch table. logger defaults
// to discarding output when nil.
func NewRouter(sessions *session.Manager, reg *registry.Registry, mem *memory.Service, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Router{sessions: sessions, reg: reg, mem: mem, logger: logger}
	r.table = r.buildTable()
	return r
}

// Table exposes the router's dispatch table, e.g. so the stdio transport
// can enumerate tool names to register with mcp-go.
func (r *Router) Table() Table { return r.table }

// Dispatch runs one framed request against sessionID's session, serialized
// under that session's single-writer lock, and converts the outcome into
// the wire Response envelope. Unknown tool names surface ErrUnknownTool
// without ever touching the session lock.
func (r *Router) Dispatch(ctx context.Context, sessionID string, req Request) Response {
	handler, ok := r.table[req.Tool]
	if !ok {
		return errorResponse(req.ID, tmwserr.UnknownTool(req.Tool))
	}

	ctx, cancel := context.WithTimeout(ctx, RequestDeadline)
	defer cancel()

	var result any
	var callErr error
	writerErr := r.sessions.WithWriter(sessionID, func(sess *model.Session) error {
		principal, err := r.principalFor(sess)
		if err != nil {
			callErr = err
			return nil
		}
		sess.LastActivityAt = time.Now()
		result, callErr = handler(ctx, Call{Session: sess, Principal: principal, Params: req.Params})
		return nil
	})
	if writerErr != nil {
		return errorResponse(req.ID, writerErr)
	}
	if callErr != nil {
		return errorResponse(req.ID, callErr)
	}
	return Response{ID: req.ID, Result: result}
}

// principalFor resolves the session's current agent through the registry.
// A session with no current agent yet (never authenticated, never
// switched) cannot invoke any tool that needs a principal.
func (r *Router) principalFor(sess *model.Session) (model.Agent, error) {
	if sess.CurrentAgentID == "" {
		return model.Agent{}, tmwserr.Validation("session has no current agent; authenticate or switch_agent first")
	}
	return r.reg.Resolve(sess.CurrentAgentID)
}

func errorResponse(id string, err error) Response {
	return Response{
		ID: id,
		Error: &ErrorPayload{
			Code:       string(tmwserr.CodeOf(err)),
			Message:    err.Error(),
			RetryAfter: tmwserr.RetryAfter(err),
		},
	}
}

// unmarshalOrValidation decodes raw into out, wrapping any decode failure
// as ErrValidation rather than letting a json.SyntaxError leak past the
// tool boundary.
func unmarshalOrValidation(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return tmwserr.Validation("invalid params: %v", err)
	}
	return nil
}
