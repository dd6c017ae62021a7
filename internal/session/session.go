package session

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// IdleTimeout is how long a session may sit with no traffic before the
// sweeper closes it, per spec.md §4.G.
const IdleTimeout = 15 * time.Minute

// Manager owns the sharded session map and its idle-timeout sweep.
type Manager struct {
	shards *shardMap
	logger *log.Logger

	sweepEvery time.Duration
	stopSweep  chan struct{}
	stopOnce   sync.Once
}

// NewManager wires a Manager and starts its idle-timeout sweep loop. logger
// defaults to discarding output when nil.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Manager{
		shards:     newShardMap(),
		logger:     logger,
		sweepEvery: time.Minute,
		stopSweep:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the idle sweep. It does not forcibly close live sessions;
// callers that need a clean shutdown should close each session explicitly.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopSweep) })
}

func (m *Manager) sweepLoop() {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweepIdle(time.Now())
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweepIdle(now time.Time) {
	var expired []string
	m.shards.forEach(func(id string, e *Entry) {
		e.Lock()
		idle := now.Sub(e.Session.LastActivityAt)
		e.Unlock()
		if idle >= IdleTimeout {
			expired = append(expired, id)
		}
	})
	for _, id := range expired {
		m.CloseSession(id)
		m.logger.Printf("session %s closed: idle for %s", id, IdleTimeout)
	}
}

// Open registers a new session in the open state.
func (m *Manager) Open(sessionID string) *Entry {
	now := time.Now()
	e := &Entry{
		Session: &model.Session{
			SessionID:      sessionID,
			ConnectedAt:    now,
			LastActivityAt: now,
			State:          model.SessionOpen,
		},
	}
	m.shards.put(sessionID, e)
	return e
}

// Get returns the entry for sessionID, if any.
func (m *Manager) Get(sessionID string) (*Entry, bool) {
	return m.shards.get(sessionID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int { return m.shards.count() }

// Touch refreshes last-activity time and advances open->steady on the first
// touch, whether or not the session has authenticated.
func (m *Manager) Touch(sessionID string) error {
	e, ok := m.Get(sessionID)
	if !ok {
		return tmwserr.NotFound("session", sessionID)
	}
	e.Lock()
	defer e.Unlock()
	e.Session.LastActivityAt = time.Now()
	if e.Session.State == model.SessionOpen {
		e.Session.State = model.SessionSteady
	}
	return nil
}

// Authenticate marks a session authenticated, bound to agentID, and moves
// it to the steady state.
func (m *Manager) Authenticate(sessionID, agentID string) error {
	e, ok := m.Get(sessionID)
	if !ok {
		return tmwserr.NotFound("session", sessionID)
	}
	e.Lock()
	defer e.Unlock()
	e.Session.Authenticated = true
	e.Session.CurrentAgentID = agentID
	e.Session.State = model.SessionSteady
	e.Session.LastActivityAt = time.Now()
	return nil
}

// CloseSession transitions a session through closing->closed and removes it
// from the map.
func (m *Manager) CloseSession(sessionID string) {
	e, ok := m.Get(sessionID)
	if ok {
		e.Lock()
		e.Session.State = model.SessionClosing
		e.Session.State = model.SessionClosed
		e.Unlock()
	}
	m.shards.delete(sessionID)
}

// WithWriter runs fn against sessionID's Session under its single-writer
// lock, the only sanctioned way to mutate CurrentAgentID/AgentHistory
// outside of Authenticate.
func (m *Manager) WithWriter(sessionID string, fn func(s *model.Session) error) error {
	e, ok := m.Get(sessionID)
	if !ok {
		return tmwserr.NotFound("session", sessionID)
	}
	e.Lock()
	defer e.Unlock()
	return fn(e.Session)
}
