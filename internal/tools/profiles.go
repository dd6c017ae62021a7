package tools

import (
	"context"
	"encoding/json"
	"os"

	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/validate"
)

// profilePathParams is shared by save_agent_profiles/load_agent_profiles;
// path is validated through internal/validate.PathAllowlist before any
// file is opened, per spec.md §4.B/§9's "file I/O through path validation
// only" note -- these tools never touch storage or access control.
type profilePathParams struct {
	Path string `json:"path"`
}

func (r *Router) saveAgentProfiles(_ context.Context, call Call) (any, error) {
	var p profilePathParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	resolved, err := validate.PathAllowlist(p.Path, validate.DefaultAllowlist())
	if err != nil {
		return nil, err
	}

	agents := r.reg.List(registry.ListFilter{})
	data, err := json.MarshalIndent(agents, "", "  ")
	if err != nil {
		return nil, tmwserr.Internal(err)
	}
	if err := os.WriteFile(resolved, data, 0o600); err != nil {
		return nil, tmwserr.Internal(err)
	}
	return struct {
		Saved string `json:"saved"`
		Count int    `json:"count"`
	}{Saved: resolved, Count: len(agents)}, nil
}

func (r *Router) loadAgentProfiles(ctx context.Context, call Call) (any, error) {
	var p profilePathParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	resolved, err := validate.PathAllowlist(p.Path, validate.DefaultAllowlist())
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, tmwserr.Validation("could not read %s: %v", resolved, err)
	}
	var entries []validate.ConfigAgentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, tmwserr.Validation("%s is not a valid agent profile list: %v", resolved, err)
	}
	if err := validate.ValidateConfigContent(raw, entries); err != nil {
		return nil, err
	}

	loaded := 0
	for _, e := range entries {
		if _, err := r.reg.Register(ctx, registry.AgentSpec{
			AgentID:      e.FullID,
			DisplayName:  e.DisplayName,
			Namespace:    e.Namespace,
			Capabilities: map[string]any{"names": e.Capabilities},
			AccessLevel:  stringToAccessLevel(e.AccessLevel),
		}, false); err != nil {
			return nil, err
		}
		loaded++
	}
	return struct {
		Loaded int `json:"loaded"`
	}{Loaded: loaded}, nil
}
