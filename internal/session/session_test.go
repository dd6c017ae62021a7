package session

import (
	"sync"
	"testing"
	"time"

	"github.com/apto-as/tmws/internal/model"
)

func TestOpenAndGetRoundTrips(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	e := m.Open("s1")
	if e.Session.State != model.SessionOpen {
		t.Fatalf("expected new session to be open, got %q", e.Session.State)
	}
	got, ok := m.Get("s1")
	if !ok || got.Session.SessionID != "s1" {
		t.Fatalf("expected to find session s1, got %+v ok=%v", got, ok)
	}
}

func TestTouchAdvancesToSteady(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	m.Open("s1")

	if err := m.Touch("s1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	e, _ := m.Get("s1")
	if e.Session.State != model.SessionSteady {
		t.Fatalf("expected steady state after touch, got %q", e.Session.State)
	}
}

func TestAuthenticateBindsAgent(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	m.Open("s1")

	if err := m.Authenticate("s1", "athena-conductor"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	e, _ := m.Get("s1")
	if !e.Session.Authenticated || e.Session.CurrentAgentID != "athena-conductor" {
		t.Fatalf("expected authenticated session bound to athena-conductor, got %+v", e.Session)
	}
}

func TestCloseSessionRemovesFromMap(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	m.Open("s1")

	m.CloseSession("s1")
	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected session to be removed after close")
	}
}

func TestWithWriterSerializesAgentSwitches(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	m.Open("s1")
	_ = m.Authenticate("s1", "athena-conductor")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := "artemis-optimizer"
			if n%2 == 0 {
				name = "hera-strategist"
			}
			_ = m.WithWriter("s1", func(s *model.Session) error {
				s.PushSwitch(name, time.Now())
				return nil
			})
		}(i)
	}
	wg.Wait()

	e, _ := m.Get("s1")
	if e.Session.SwitchCount != 20 {
		t.Fatalf("expected 20 serialized switches to be recorded, got %d", e.Session.SwitchCount)
	}
	if len(e.Session.AgentHistory) != model.MaxAgentHistory {
		t.Fatalf("expected history bounded at %d, got %d", model.MaxAgentHistory, len(e.Session.AgentHistory))
	}
}

func TestSweepIdleClosesStaleSessions(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()
	m.Open("s1")

	e, _ := m.Get("s1")
	e.Lock()
	e.Session.LastActivityAt = time.Now().Add(-IdleTimeout - time.Minute)
	e.Unlock()

	m.sweepIdle(time.Now())
	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected idle session to be swept")
	}
}

func TestShardIndexDistributesAcrossShards(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		seen[shardIndex(time.Now().Add(time.Duration(i)).String())] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected session ids to spread across more than one shard, got %d distinct shards", len(seen))
	}
}
