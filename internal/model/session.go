package model

import "time"

// MaxAgentHistory bounds Session.AgentHistory per spec.md §3.
const MaxAgentHistory = 16

// SessionState tracks where a Session sits in its open→closed lifecycle.
type SessionState string

const (
	SessionOpen          SessionState = "open"
	SessionAuthenticating SessionState = "authenticate"
	SessionSteady        SessionState = "steady"
	SessionClosing       SessionState = "closing"
	SessionClosed        SessionState = "closed"
)

// AgentSwitch is one entry of a Session's bounded agent_history deque.
type AgentSwitch struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	SwitchedAt  time.Time `json:"switched_at"`
}

// Session is per-connection runtime state; it is never persisted, matching
// spec.md §3's explicit note that sessions are not written to storage.
type Session struct {
	SessionID      string        `json:"session_id"`
	CurrentAgentID string        `json:"current_agent_id"`
	AgentHistory   []AgentSwitch `json:"agent_history"`
	ConnectedAt    time.Time     `json:"connected_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	SwitchCount    int           `json:"switch_count"`
	State          SessionState  `json:"state"`
	Authenticated  bool          `json:"authenticated"`
}

// PushSwitch records a current-agent change, dropping the oldest entry past
// MaxAgentHistory. It does not itself enforce the single-writer rule; callers
// (internal/session) must hold the session's lock.
func (s *Session) PushSwitch(to string, at time.Time) {
	if s.CurrentAgentID != "" {
		s.AgentHistory = append(s.AgentHistory, AgentSwitch{
			FromAgentID: s.CurrentAgentID,
			ToAgentID:   to,
			SwitchedAt:  at,
		})
		if len(s.AgentHistory) > MaxAgentHistory {
			s.AgentHistory = s.AgentHistory[len(s.AgentHistory)-MaxAgentHistory:]
		}
	}
	s.CurrentAgentID = to
	s.SwitchCount++
	s.LastActivityAt = at
}

// RecentHistory returns up to n most recent switches, newest last.
func (s *Session) RecentHistory(n int) []AgentSwitch {
	if n <= 0 || len(s.AgentHistory) == 0 {
		return nil
	}
	if n > len(s.AgentHistory) {
		n = len(s.AgentHistory)
	}
	return s.AgentHistory[len(s.AgentHistory)-n:]
}
