package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apto-as/tmws/internal/access"
	"github.com/apto-as/tmws/internal/embedding"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/storage"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// deterministicProvider returns a fixed small vector derived from the sum of
// the text's bytes, so identical inputs embed identically and distinct
// inputs are very likely to differ, without pulling in a real model.
type deterministicProvider struct{}

func (deterministicProvider) Dimension() int { return 4 }

func (deterministicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var sum float32
		for _, b := range []byte(t) {
			sum += float32(b)
		}
		out[i] = []float32{sum, 1, 0, 0}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	rel, err := storage.OpenRelationalStore(filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("open relational store: %v", err)
	}
	t.Cleanup(func() { _ = rel.Close() })
	factory := storage.NewVectorBackendFactory(storage.VectorBackendConfig{
		LocalDBPath:     filepath.Join(dir, "vectors"),
		VectorDimension: 4,
	}, nil)
	store := storage.Open(rel, factory, nil)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := registry.New(context.Background(), store)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	gateway := embedding.NewGateway(deterministicProvider{}, 1024)
	engine := access.NewEngine(access.NewRateLimiter(nil), nil)

	return New(store, gateway, engine, reg, nil), reg
}

func athena(t *testing.T, reg *registry.Registry) model.Agent {
	t.Helper()
	a, err := reg.Resolve("athena")
	if err != nil {
		t.Fatalf("resolve athena: %v", err)
	}
	return a
}

func TestCreateThenGetIsIdempotent(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{
		Content:    "Project Apollo kickoff",
		Tags:       []string{"project", "kickoff"},
		Importance: 0.8,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.store.GetMemory(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "Project Apollo kickoff" || got.OwnerAgentID != principal.AgentID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCreateAndSearchFindsMemory(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{
		Content: "Apollo launch briefing", Importance: 0.5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	results, err := svc.SearchMemories(ctx, principal, SearchRequest{Query: "Apollo launch briefing", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Memory.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected search to surface the created memory, got %+v", results)
	}
}

func TestShareMemorySymmetry(t *testing.T) {
	svc, reg := newTestService(t)
	owner := athena(t, reg)
	grantee := mustResolve(t, reg, "muses")
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, owner, CreateMemoryRequest{
		Content: "shared secret plan", AccessLevel: model.AccessPrivate,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Before sharing, the grantee cannot modify it.
	_, err = svc.UpdateMemory(ctx, grantee, created.ID, model.MemoryPatch{})
	if tmwserr.CodeOf(err) != tmwserr.CodePermission {
		t.Fatalf("expected permission denial before share, got %v", err)
	}

	shared, err := svc.ShareMemory(ctx, owner, created.ID, []string{grantee.AgentID}, model.PermRead)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if shared.AccessLevel != model.AccessShared {
		t.Fatalf("expected access_level shared after granting, got %q", shared.AccessLevel)
	}

	results, err := svc.SearchMemories(ctx, grantee, SearchRequest{Query: "shared secret plan", Limit: 5, IncludeShared: true})
	if err != nil {
		t.Fatalf("search as grantee: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Memory.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected grantee's search to surface the shared memory")
	}

	unshared, err := svc.ShareMemory(ctx, owner, created.ID, nil, model.PermRead)
	if err != nil {
		t.Fatalf("unshare: %v", err)
	}
	if unshared.AccessLevel != model.AccessPrivate {
		t.Fatalf("expected access_level to revert to private after clearing grantees, got %q", unshared.AccessLevel)
	}
}

// TestShareMemoryCrossNamespaceSearch covers spec.md §8 S2 for two agents in
// different namespaces, where every built-in agent lives in "trinitas" and
// so cannot exercise the cross-namespace path on its own.
func TestShareMemoryCrossNamespaceSearch(t *testing.T) {
	svc, reg := newTestService(t)
	owner := athena(t, reg)
	ctx := context.Background()

	grantee, err := reg.Register(ctx, registry.AgentSpec{
		AgentID: "scout-recon", Namespace: "ops", AccessLevel: "standard",
	}, false)
	if err != nil {
		t.Fatalf("register grantee: %v", err)
	}

	created, err := svc.CreateMemory(ctx, owner, CreateMemoryRequest{
		Content: "cross namespace launch window", AccessLevel: model.AccessPrivate,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ShareMemory(ctx, owner, created.ID, []string{grantee.AgentID}, model.PermRead); err != nil {
		t.Fatalf("share: %v", err)
	}

	results, err := svc.SearchMemories(ctx, grantee, SearchRequest{
		Query: "cross namespace launch window", Limit: 5, IncludeShared: true,
	})
	if err != nil {
		t.Fatalf("search as out-of-namespace grantee: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Memory.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected grantee in a different namespace to find the memory shared with it, got %+v", results)
	}
}

func TestUpdateMemoryRecordsVersionHistory(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{Content: "first draft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newContent := "revised draft"
	_, err = svc.UpdateMemory(ctx, principal, created.ID, model.MemoryPatch{Content: &newContent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	history, err := svc.GetMemoryHistory(ctx, principal, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.History) != 1 || history.History[0].Content != "first draft" {
		t.Fatalf("expected one prior version with the original content, got %+v", history.History)
	}
	if history.Current.Content != "revised draft" {
		t.Fatalf("expected current content to be the revision, got %q", history.Current.Content)
	}
}

func TestRestoreVersionRollsBackContent(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{Content: "v1 content"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v2 := "v2 content"
	if _, err := svc.UpdateMemory(ctx, principal, created.ID, model.MemoryPatch{Content: &v2}); err != nil {
		t.Fatalf("update: %v", err)
	}

	restored, err := svc.RestoreVersion(ctx, principal, created.ID, 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Content != "v1 content" {
		t.Fatalf("expected restore to bring back v1 content, got %q", restored.Content)
	}
}

func TestCreateMemoryRejectsParentChainExceedingWalkBound(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	parentID := ""
	for i := 0; i < model.MaxCycleWalk; i++ {
		m, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{Content: "link", ParentMemoryID: parentID})
		if err != nil {
			t.Fatalf("create chain link %d: %v", i, err)
		}
		parentID = m.ID
	}

	_, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{Content: "one link too many", ParentMemoryID: parentID})
	if tmwserr.CodeOf(err) != tmwserr.CodeValidation {
		t.Fatalf("expected ErrValidation once the ancestor walk hits its bound, got %v", err)
	}
}

func TestDeleteMemoryDefaultsToSoftArchive(t *testing.T) {
	svc, reg := newTestService(t)
	principal := athena(t, reg)
	ctx := context.Background()

	created, err := svc.CreateMemory(ctx, principal, CreateMemoryRequest{Content: "ephemeral"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteMemory(ctx, principal, created.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := svc.store.GetMemory(ctx, created.ID)
	if err != nil {
		t.Fatalf("expected row to still exist after soft delete: %v", err)
	}
	if !got.IsArchived {
		t.Fatal("expected is_archived=true after non-hard delete")
	}
}

func TestAsAgentOverrideRequiresElevation(t *testing.T) {
	svc, reg := newTestService(t)
	muses := mustResolve(t, reg, "muses") // standard access
	ctx := context.Background()

	_, err := svc.CreateMemory(ctx, muses, CreateMemoryRequest{
		Content: "impersonation attempt", AsAgent: "hera-strategist",
	})
	if tmwserr.CodeOf(err) != tmwserr.CodePermission {
		t.Fatalf("expected standard principal to be denied as_agent override, got %v", err)
	}

	artemis := mustResolve(t, reg, "artemis") // elevated access
	created, err := svc.CreateMemory(ctx, artemis, CreateMemoryRequest{
		Content: "delegated note", AsAgent: "hera-strategist",
	})
	if err != nil {
		t.Fatalf("expected elevated principal to act as_agent, got %v", err)
	}
	if created.OwnerAgentID != "hera-strategist" {
		t.Fatalf("expected memory to be owned by hera-strategist, got %q", created.OwnerAgentID)
	}
}

func mustResolve(t *testing.T, reg *registry.Registry, nameOrID string) model.Agent {
	t.Helper()
	a, err := reg.Resolve(nameOrID)
	if err != nil {
		t.Fatalf("resolve %s: %v", nameOrID, err)
	}
	return a
}
