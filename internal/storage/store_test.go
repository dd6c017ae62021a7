package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apto-as/tmws/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	rel, err := OpenRelationalStore(filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("open relational store: %v", err)
	}
	t.Cleanup(func() { _ = rel.Close() })

	factory := NewVectorBackendFactory(VectorBackendConfig{
		LocalDBPath:     filepath.Join(dir, "vectors"),
		VectorDimension: 4,
	}, nil)

	store := Open(rel, factory, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndGetMemoryRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := model.Memory{
		Content:      "Project Apollo kickoff",
		OwnerAgentID: "athena-conductor",
		Namespace:    "trinitas",
		AccessLevel:  model.AccessPrivate,
		Tags:         []string{"project", "kickoff"},
		Importance:   0.8,
		Embedding:    []float32{0.1, 0.2, 0.3, 0.4},
	}

	inserted, err := store.InsertMemory(ctx, m)
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	if inserted.ID == "" {
		t.Fatal("expected a generated id")
	}

	got, err := store.GetMemory(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got.Content != m.Content || got.OwnerAgentID != m.OwnerAgentID {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestSearchReturnsInsertedMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	m := model.Memory{
		Content:      "Apollo launch briefing",
		OwnerAgentID: "athena-conductor",
		Namespace:    "trinitas",
		AccessLevel:  model.AccessPrivate,
		Importance:   0.5,
		Embedding:    vec,
	}
	inserted, err := store.InsertMemory(ctx, m)
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	results, err := store.Search(ctx, vec, []string{"trinitas"}, model.SearchFilters{
		ExcludeArchived: true,
	}, 5, 0.0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Memory.ID == inserted.ID {
			found = true
			if r.Similarity < 0.99 {
				t.Fatalf("expected near-identical vector to score near 1.0, got %v", r.Similarity)
			}
		}
	}
	if !found {
		t.Fatalf("expected search to return the inserted memory, got %+v", results)
	}
}

func TestUpdateMemoryTagPatchSemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.InsertMemory(ctx, model.Memory{
		Content:      "note",
		OwnerAgentID: "hera-strategist",
		Namespace:    "trinitas",
		AccessLevel:  model.AccessPrivate,
		Tags:         []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := store.UpdateMemory(ctx, inserted.ID, model.MemoryPatch{
		TagsAdd:    []string{"c"},
		TagsRemove: []string{"a"},
	}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	want := map[string]bool{"b": true, "c": true}
	if len(updated.Tags) != len(want) {
		t.Fatalf("got tags %v, want %v", updated.Tags, want)
	}
	for _, tag := range updated.Tags {
		if !want[tag] {
			t.Fatalf("unexpected tag %q in %v", tag, updated.Tags)
		}
	}
}

func TestArchiveThenDeleteMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.InsertMemory(ctx, model.Memory{
		Content:      "temp",
		OwnerAgentID: "eris-coordinator",
		Namespace:    "trinitas",
		AccessLevel:  model.AccessPrivate,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.ArchiveMemory(ctx, inserted.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := store.GetMemory(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	if !got.IsArchived {
		t.Fatal("expected is_archived=true after archive")
	}

	if err := store.DeleteMemory(ctx, inserted.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetMemory(ctx, inserted.ID); err == nil {
		t.Fatal("expected ErrNotFound after hard delete")
	}
}

func TestAncestorChainDetectsCycleCandidate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root, err := store.InsertMemory(ctx, model.Memory{
		Content: "root", OwnerAgentID: "hestia-auditor", Namespace: "trinitas", AccessLevel: model.AccessPrivate,
	})
	if err != nil {
		t.Fatalf("insert root: %v", err)
	}
	child, err := store.InsertMemory(ctx, model.Memory{
		Content: "child", OwnerAgentID: "hestia-auditor", Namespace: "trinitas",
		AccessLevel: model.AccessPrivate, ParentMemoryID: root.ID,
	})
	if err != nil {
		t.Fatalf("insert child: %v", err)
	}

	chain, err := store.AncestorChain(ctx, child.ID)
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 2 || chain[0] != child.ID || chain[1] != root.ID {
		t.Fatalf("unexpected ancestor chain: %v", chain)
	}
}

func TestTrigramIndexOverlap(t *testing.T) {
	idx := NewTrigramIndex()
	idx.Put("a", "apollo launch briefing")
	idx.Put("b", "unrelated content about gardening")

	overlap := idx.Overlap("apollo launch", []string{"a", "b"})
	if overlap["a"] <= overlap["b"] {
		t.Fatalf("expected doc a to overlap more with the query, got %v", overlap)
	}
}
