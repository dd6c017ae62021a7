// Package registry holds the three classes of agents spec.md §4.E
// describes: an immutable compile-time table of built-in Trinitas agents,
// persisted agents loaded from storage at startup, and session-local
// ephemeral agents registered at runtime.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/storage"
	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/validate"
)

// builtinAgents is the immutable compile-time Trinitas catalogue, keyed by
// full agent id. It is never mutated at runtime; register/unregister both
// refuse to touch it. Access levels are taken from spec.md §4.E verbatim,
// which assigns artemis/eris/hera "elevated" -- the original Python
// TRINITAS_AGENTS dict calls them "team", a discrepancy recorded in
// the design notes and resolved in favor of the specification since it is
// the normative source for this reimplementation.
var builtinAgents = map[string]model.Agent{
	"athena-conductor": {
		AgentID: "athena-conductor", DisplayName: "Athena - Harmonious Conductor",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "system",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"orchestration": "advanced", "workflow_automation": true,
			"resource_optimization": true, "parallel_execution": true,
			"task_delegation": true, "system_coordination": true,
		},
	},
	"artemis-optimizer": {
		AgentID: "artemis-optimizer", DisplayName: "Artemis - Technical Perfectionist",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "elevated",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"performance_optimization": "expert", "code_quality": true,
			"technical_excellence": true, "algorithm_design": true,
			"efficiency_improvement": true, "best_practices": true,
		},
	},
	"hestia-auditor": {
		AgentID: "hestia-auditor", DisplayName: "Hestia - Security Guardian",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "system",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"security_analysis": "expert", "vulnerability_assessment": true,
			"risk_management": true, "threat_modeling": true,
			"compliance_verification": true, "audit_logging": true,
			"special_permissions": []string{"audit_all"},
		},
	},
	"eris-coordinator": {
		AgentID: "eris-coordinator", DisplayName: "Eris - Tactical Coordinator",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "elevated",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"tactical_planning": true, "team_coordination": true,
			"conflict_resolution": true, "workflow_orchestration": true,
			"collaboration": true, "balance_adjustment": true,
		},
	},
	"hera-strategist": {
		AgentID: "hera-strategist", DisplayName: "Hera - Strategic Commander",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "elevated",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"strategic_planning": true, "architecture_design": true,
			"long_term_vision": true, "roadmap_development": true,
			"stakeholder_management": true, "user_experience": true,
		},
	},
	"muses-documenter": {
		AgentID: "muses-documenter", DisplayName: "Muses - Knowledge Architect",
		AgentType: model.AgentSystem, Namespace: "trinitas", AccessLevel: "standard",
		IsActive: true, IsBuiltin: true,
		Capabilities: map[string]any{
			"documentation": "expert", "knowledge_management": true,
			"specification_writing": true, "api_documentation": true,
			"archive_management": true, "content_structuring": true,
		},
	},
}

// aliases maps a Trinitas short name to its full agent id.
var aliases = map[string]string{
	"athena":  "athena-conductor",
	"artemis": "artemis-optimizer",
	"hestia":  "hestia-auditor",
	"eris":    "eris-coordinator",
	"hera":    "hera-strategist",
	"muses":   "muses-documenter",
}

// Registry composes the built-in table with persisted and ephemeral agents,
// caching agent records in memory so access control can evaluate policies
// without a storage round-trip on every check.
type Registry struct {
	store *storage.Store

	mu        sync.RWMutex
	cache     map[string]model.Agent // agent_id -> record, persisted+ephemeral only
	persisted map[string]bool        // agent_id -> true if backed by storage
}

// New wires a Registry against the storage layer and loads persisted
// agents into the cache.
func New(ctx context.Context, store *storage.Store) (*Registry, error) {
	r := &Registry{
		store:     store,
		cache:     make(map[string]model.Agent),
		persisted: make(map[string]bool),
	}
	agents, err := store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, a := range agents {
		r.cache[a.AgentID] = a
		r.persisted[a.AgentID] = true
	}
	r.mu.Unlock()
	return r, nil
}

// Resolve accepts a short alias or full id and returns the matching Agent,
// trying the alias map first and then falling back to the full id.
func (r *Registry) Resolve(nameOrID string) (model.Agent, error) {
	if full, ok := aliases[nameOrID]; ok {
		nameOrID = full
	}
	if a, ok := builtinAgents[nameOrID]; ok {
		return a, nil
	}

	r.mu.RLock()
	a, ok := r.cache[nameOrID]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	return model.Agent{}, tmwserr.UnknownAgent(nameOrID)
}

// AgentSpec is the caller-supplied shape for register(); its AgentID and
// Namespace are validated through internal/validate before anything is
// written. The other fields are stored as given.
type AgentSpec struct {
	AgentID      string
	DisplayName  string
	AgentType    model.AgentType
	Namespace    string
	Capabilities map[string]any
	AccessLevel  model.AccessLevel
}

// Register validates spec, rejects name clashes with built-ins, and either
// keeps the new agent ephemeral (session-local) or persists it to storage
// when persist=true.
func (r *Registry) Register(ctx context.Context, spec AgentSpec, persist bool) (model.Agent, error) {
	if err := validate.AgentID(spec.AgentID); err != nil {
		return model.Agent{}, err
	}
	ns := spec.Namespace
	if ns == "" {
		ns = model.DefaultNamespace
	}
	if err := validate.Namespace(ns); err != nil {
		return model.Agent{}, err
	}
	if _, isAlias := aliases[spec.AgentID]; isAlias {
		return model.Agent{}, tmwserr.NameConflict("agent id %q collides with a built-in alias", spec.AgentID)
	}
	if _, isBuiltin := builtinAgents[spec.AgentID]; isBuiltin {
		return model.Agent{}, tmwserr.NameConflict("agent id %q collides with a built-in agent", spec.AgentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[spec.AgentID]; exists {
		return model.Agent{}, tmwserr.DuplicateID("agent id %q already registered", spec.AgentID)
	}

	now := time.Now()
	agent := model.Agent{
		AgentID:      spec.AgentID,
		DisplayName:  spec.DisplayName,
		AgentType:    spec.AgentType,
		Namespace:    ns,
		Capabilities: spec.Capabilities,
		AccessLevel:  spec.AccessLevel,
		IsActive:     true,
		IsBuiltin:    false,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if agent.AccessLevel == "" {
		agent.AccessLevel = "standard"
	}

	if persist {
		if err := r.store.PutAgent(ctx, agent); err != nil {
			return model.Agent{}, err
		}
		r.persisted[agent.AgentID] = true
	}
	r.cache[agent.AgentID] = agent
	return agent, nil
}

// Unregister refuses to touch a built-in and otherwise archives (marks
// inactive) the agent record without deleting memories it owns.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if _, isBuiltin := builtinAgents[id]; isBuiltin {
		return tmwserr.Permission("built-in agent %q cannot be unregistered", id)
	}
	if _, isAlias := aliases[id]; isAlias {
		return tmwserr.Permission("built-in agent alias %q cannot be unregistered", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.cache[id]
	if !ok {
		return tmwserr.UnknownAgent(id)
	}
	a.IsActive = false
	a.UpdatedAt = time.Now()

	if r.persisted[id] {
		if err := r.store.PutAgent(ctx, a); err != nil {
			return err
		}
	}
	r.cache[id] = a
	return nil
}

// ListFilter narrows List by namespace and/or agent type; zero values match
// everything.
type ListFilter struct {
	Namespace string
	AgentType model.AgentType
}

// List returns built-ins plus registered agents matching filter, ordered by
// agent_id ascending.
func (r *Registry) List(filter ListFilter) []model.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Agent
	for _, a := range builtinAgents {
		out = append(out, a)
	}
	for _, a := range r.cache {
		out = append(out, a)
	}

	if filter.Namespace != "" || filter.AgentType != "" {
		filtered := out[:0]
		for _, a := range out {
			if filter.Namespace != "" && a.Namespace != filter.Namespace {
				continue
			}
			if filter.AgentType != "" && a.AgentType != filter.AgentType {
				continue
			}
			filtered = append(filtered, a)
		}
		out = filtered
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// IsBuiltin reports whether id (full id, not alias) names a built-in agent.
func IsBuiltin(id string) bool {
	_, ok := builtinAgents[id]
	return ok
}

// Switch replaces sess's current-agent slot, appending the prior agent to
// its bounded history. Callers must already hold the session's
// single-writer lock (see internal/session).
func (r *Registry) Switch(sess *model.Session, nameOrID string) (model.Agent, error) {
	a, err := r.Resolve(nameOrID)
	if err != nil {
		return model.Agent{}, err
	}
	sess.PushSwitch(a.AgentID, time.Now())
	return a, nil
}

// ExecuteAs temporarily swaps sess's current-agent slot, runs fn, and
// restores the previous slot on every exit path including panic/failure.
func (r *Registry) ExecuteAs(sess *model.Session, nameOrID string, fn func(agent model.Agent) error) error {
	a, err := r.Resolve(nameOrID)
	if err != nil {
		return err
	}
	prior := sess.CurrentAgentID
	sess.CurrentAgentID = a.AgentID
	defer func() { sess.CurrentAgentID = prior }()
	return fn(a)
}

// NormalizeAlias resolves a short name to its full id without a full
// Resolve() lookup, returning the input unchanged if it is not a known
// alias. Used by tool handlers that need the canonical id for logging.
func NormalizeAlias(nameOrID string) string {
	if full, ok := aliases[strings.ToLower(nameOrID)]; ok {
		return full
	}
	return nameOrID
}
