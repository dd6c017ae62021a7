package tools

import (
	"context"
	"encoding/json"

	"github.com/apto-as/tmws/internal/model"
)

// Call carries everything a Handler needs beyond its raw params: the
// session's runtime state (mutable only under the session's single-writer
// lock, which Router.Dispatch already holds for the call's duration) and
// the resolved calling principal.
type Call struct {
	Session   *model.Session
	Principal model.Agent
	Params    json.RawMessage
}

// Handler is one entry of the static dispatch table. It returns the value
// to marshal as Response.Result, or an error to translate into
// Response.Error via internal/tmwserr's Code().
type Handler func(ctx context.Context, call Call) (any, error)

// Table is the static {name -> handler} dispatch table populated once at
// startup, re-expressing the "dynamic tool dispatch" design note of
// spec.md §9 as data instead of decorator-registered handlers on a mutable
// object.
type Table map[string]Handler
