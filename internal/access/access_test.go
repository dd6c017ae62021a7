package access

import (
	"testing"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

func testEngine() *Engine {
	return NewEngine(NewRateLimiter(nil), nil)
}

func TestSelfAccessAlwaysAllowed(t *testing.T) {
	e := testEngine()
	owner := model.Agent{AgentID: "athena-conductor", AccessLevel: "standard", Namespace: "trinitas"}
	res := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessPrivate}

	for _, op := range []Operation{OpRead, OpWrite, OpDelete, OpShare} {
		d, err := e.Evaluate(owner, op, res)
		if err != nil || !d.Allowed {
			t.Errorf("self access for %s: got allowed=%v err=%v, want allowed", op, d.Allowed, err)
		}
	}
}

func TestPrivateIsolationDeniesNonOwner(t *testing.T) {
	e := testEngine()
	other := model.Agent{AgentID: "artemis-optimizer", AccessLevel: "standard", Namespace: "trinitas"}
	res := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessPrivate}

	d, err := e.Evaluate(other, OpRead, res)
	if d.Allowed || err == nil {
		t.Fatalf("expected private memory read by non-owner to be denied, got %+v, %v", d, err)
	}
	if tmwserr.CodeOf(err) != tmwserr.CodePermission {
		t.Fatalf("expected ErrPermission, got %v", tmwserr.CodeOf(err))
	}
}

func TestShareSymmetry(t *testing.T) {
	e := testEngine()
	grantee := model.Agent{AgentID: "muses-documenter", AccessLevel: "standard", Namespace: "trinitas"}

	shared := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessShared, SharedWith: []string{"muses-documenter"}}
	if d, err := e.Evaluate(grantee, OpRead, shared); err != nil || !d.Allowed {
		t.Fatalf("expected grantee to read shared memory, got %+v, %v", d, err)
	}

	unshared := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessShared, SharedWith: nil}
	if d, err := e.Evaluate(grantee, OpRead, unshared); err == nil || d.Allowed {
		t.Fatalf("expected revoked grantee to be denied, got %+v, %v", d, err)
	}
}

func TestPublicMemoryReadAllowedWriteDenied(t *testing.T) {
	e := testEngine()
	other := model.Agent{AgentID: "eris-coordinator", AccessLevel: "standard", Namespace: "trinitas"}
	res := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessPublic}

	if d, err := e.Evaluate(other, OpRead, res); err != nil || !d.Allowed {
		t.Fatalf("expected public read to be allowed, got %+v, %v", d, err)
	}
	if d, err := e.Evaluate(other, OpWrite, res); err == nil || d.Allowed {
		t.Fatalf("expected public write by non-owner to be denied, got %+v, %v", d, err)
	}
}

func TestSystemMemoryRequiresElevatedRead(t *testing.T) {
	e := testEngine()
	res := Resource{OwnerAgentID: "hestia-auditor", Namespace: "trinitas", AccessLevel: model.AccessSystem}

	standard := model.Agent{AgentID: "muses-documenter", AccessLevel: "standard", Namespace: "trinitas"}
	if d, err := e.Evaluate(standard, OpRead, res); err == nil || d.Allowed {
		t.Fatalf("expected standard principal to be denied system read, got %+v, %v", d, err)
	}

	elevated := model.Agent{AgentID: "artemis-optimizer", AccessLevel: "elevated", Namespace: "trinitas"}
	if d, err := e.Evaluate(elevated, OpRead, res); err != nil || !d.Allowed {
		t.Fatalf("expected elevated principal to read system memory, got %+v, %v", d, err)
	}
}

func TestNamespaceReservationRequiresElevated(t *testing.T) {
	e := testEngine()
	res := Resource{OwnerAgentID: "someone-else", Namespace: "system", AccessLevel: model.AccessTeam}

	// A standard principal in the same namespace passes the team gate, but
	// the write is then refused because "system" is a reserved namespace.
	standard := model.Agent{AgentID: "muses-documenter", AccessLevel: "standard", Namespace: "system"}
	d, err := e.Evaluate(standard, OpWrite, res)
	if err == nil || d.Allowed {
		t.Fatalf("expected a standard principal's write into a reserved namespace to be denied, got %+v, %v", d, err)
	}

	// An elevated principal in the same namespace clears the reservation gate.
	elevated := model.Agent{AgentID: "elevated-agent", AccessLevel: "elevated", Namespace: "system"}
	if d, err := e.Evaluate(elevated, OpWrite, res); err != nil || !d.Allowed {
		t.Fatalf("expected an elevated principal's write into a reserved namespace to be allowed, got %+v, %v", d, err)
	}
}

func TestRateLimiterEnforcesPerMinuteQuota(t *testing.T) {
	limiter := NewRateLimiter(map[BucketName]BucketLimits{
		BucketWrites: {PerMinute: 2, Burst: 2},
	})
	if !limiter.Allow("agent-x", BucketWrites) {
		t.Fatal("expected first write to be allowed")
	}
	if !limiter.Allow("agent-x", BucketWrites) {
		t.Fatal("expected second write to be allowed")
	}
	if limiter.Allow("agent-x", BucketWrites) {
		t.Fatal("expected third write within the burst window to be denied")
	}
}

func TestSearchOperationConsumesTheSearchesBucket(t *testing.T) {
	e := NewEngine(NewRateLimiter(map[BucketName]BucketLimits{
		BucketRequests: {PerMinute: 1000, Burst: 1000},
		BucketSearches: {PerMinute: 1, Burst: 1},
		BucketWrites:   {PerMinute: 500, Burst: 500},
	}), nil)
	self := model.Agent{AgentID: "athena-conductor", AccessLevel: "standard", Namespace: "trinitas"}
	res := Resource{OwnerAgentID: "athena-conductor", Namespace: "trinitas", AccessLevel: model.AccessPrivate}

	if _, err := e.Evaluate(self, OpSearch, res); err != nil {
		t.Fatalf("expected first search to be allowed, got %v", err)
	}
	if _, err := e.Evaluate(self, OpSearch, res); err == nil {
		t.Fatal("expected second search within the same minute to exhaust the 1/min searches bucket")
	}
	// A plain read still draws from the untouched requests bucket.
	if _, err := e.Evaluate(self, OpRead, res); err != nil {
		t.Fatalf("expected read to still be allowed from the separate requests bucket, got %v", err)
	}
}

func TestRateLimiterIsolatesAgents(t *testing.T) {
	limiter := NewRateLimiter(map[BucketName]BucketLimits{
		BucketWrites: {PerMinute: 1, Burst: 1},
	})
	if !limiter.Allow("agent-a", BucketWrites) {
		t.Fatal("expected agent-a's first write to be allowed")
	}
	if !limiter.Allow("agent-b", BucketWrites) {
		t.Fatal("expected agent-b to have its own independent bucket")
	}
}
