// Package model defines the persistent and in-memory shapes shared across
// the storage, access control, registry, and memory service packages.
package model

import "time"

// AccessLevel governs visibility of a Memory or the write privileges of an Agent.
type AccessLevel string

const (
	AccessPrivate AccessLevel = "private"
	AccessTeam    AccessLevel = "team"
	AccessShared  AccessLevel = "shared"
	AccessPublic  AccessLevel = "public"
	AccessSystem  AccessLevel = "system"
)

// agentAccessRank orders the agent-side access levels for "≥" comparisons
// used by the access control policies (elevated, admin, system are
// principal-only levels; readonly/standard are the low end).
var agentAccessRank = map[AccessLevel]int{
	"readonly": 0,
	"standard": 1,
	"elevated": 2,
	"admin":    3,
	AccessSystem: 4,
}

// AtLeast reports whether a principal access level meets or exceeds min.
func AtLeast(level, min AccessLevel) bool {
	return agentAccessRank[level] >= agentAccessRank[min]
}

// ValidAccessLevel reports whether s names one of the agent-side access
// levels recognized by AtLeast.
func ValidAccessLevel(s AccessLevel) bool {
	_, ok := agentAccessRank[s]
	return ok
}

// AgentType is an open vocabulary tag describing what kind of principal an Agent is.
type AgentType string

const (
	AgentAnthropicLLM AgentType = "anthropic_llm"
	AgentOpenAILLM    AgentType = "openai_llm"
	AgentGoogleLLM    AgentType = "google_llm"
	AgentMetaLLM      AgentType = "meta_llm"
	AgentCustom       AgentType = "custom_agent"
	AgentSystem       AgentType = "system_agent"
)

// DefaultNamespace is used when an agent or memory does not specify one.
const DefaultNamespace = "default"

// ReservedNamespaces may only be written to by elevated/admin/system
// principals, except that an owner may always write its own memories.
var ReservedNamespaces = map[string]bool{
	"system":   true,
	"trinitas": true,
}

// Agent is the identity of a calling AI or automation principal.
type Agent struct {
	AgentID      string                 `json:"agent_id"`
	DisplayName  string                 `json:"display_name"`
	AgentType    AgentType              `json:"agent_type"`
	Namespace    string                 `json:"namespace"`
	Capabilities map[string]any         `json:"capabilities"`
	AccessLevel  AccessLevel            `json:"access_level"` // readonly|standard|elevated|admin|system
	IsActive     bool                   `json:"is_active"`
	IsBuiltin    bool                   `json:"is_builtin"`
	LastActivity time.Time              `json:"last_activity"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`

	// Bookkeeping supplemented from original_source/tmws/models/agent.py;
	// informational only, never consulted by access control.
	HealthScore     float64 `json:"health_score"`
	TotalMemories   int     `json:"total_memories"`
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
}

// SuccessRate returns TotalTasks-weighted success, 0 when no tasks ran yet.
func (a *Agent) SuccessRate() float64 {
	if a.TotalTasks == 0 {
		return 0
	}
	return float64(a.SuccessfulTasks) / float64(a.TotalTasks)
}

// RecordTaskOutcome counts one task outcome and sets HealthScore to the
// success rate plus 0.1, capped at 1.0.
func (a *Agent) RecordTaskOutcome(success bool) {
	a.TotalTasks++
	if success {
		a.SuccessfulTasks++
	}
	a.HealthScore = min(1.0, a.SuccessRate()+0.1)
	a.LastActivity = time.Now()
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
