// Package storage owns all persistence. It exposes typed operations only;
// it never accepts raw query fragments from callers. Two engines back it:
// a Badger key-value store for rows and indexes, and a pluggable
// VectorBackend for approximate nearest-neighbour search.
package storage

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// Store is the storage layer's public façade, composing the relational
// store, the per-namespace vector backends, and the lexical trigram index.
type Store struct {
	rel     *RelationalStore
	vectors *VectorBackendFactory
	lexical *TrigramIndex
	logger  *log.Logger

	accessMu     sync.Mutex
	pendingBumps map[string]accessBump
	flushEvery   time.Duration
	stopFlush    chan struct{}
}

type accessBump struct {
	count int64
	last  time.Time
}

// Open wires a Store from an already-open relational store and vector
// backend factory. logger defaults to discarding output when nil.
func Open(rel *RelationalStore, vectors *VectorBackendFactory, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{
		rel:          rel,
		vectors:      vectors,
		lexical:      NewTrigramIndex(),
		logger:       logger,
		pendingBumps: make(map[string]accessBump),
		flushEvery:   2 * time.Second,
		stopFlush:    make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Close stops background flushing, flushes pending access-count bumps, and
// closes every underlying vector backend.
func (s *Store) Close() error {
	close(s.stopFlush)
	s.flushBumps()
	if err := s.vectors.CloseAll(); err != nil {
		return err
	}
	return s.rel.Close()
}

func (s *Store) flushLoop() {
	t := time.NewTicker(s.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.flushBumps()
		case <-s.stopFlush:
			return
		}
	}
}

// InsertMemory generates an id and writes the relational row and, when
// m.Embedding is set, the vector index entry for the embedding the caller
// supplied. Embedding may be nil when the embedding gateway degraded to
// ErrEmbedder and the caller chose to persist without a vector.
func (s *Store) InsertMemory(ctx context.Context, m model.Memory) (model.Memory, error) {
	m.ID = uuid.NewString()
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.LastAccessedAt = now
	m.AccessCount = 0

	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		return uow.PutMemory(m, "", "", nil, false)
	})
	if err != nil {
		return model.Memory{}, err
	}

	s.lexical.Put(m.ID, m.Content)

	if len(m.Embedding) > 0 {
		vb, err := s.vectors.For(m.Namespace)
		if err != nil {
			return model.Memory{}, tmwserr.Storage(err)
		}
		if err := vb.Upsert(ctx, m.ID, m.Content, m.Embedding, map[string]string{
			"owner_agent_id": m.OwnerAgentID,
			"access_level":   string(m.AccessLevel),
		}); err != nil {
			return model.Memory{}, tmwserr.Storage(err)
		}
	}
	return m, nil
}

// GetMemory reads a memory row by id.
func (s *Store) GetMemory(ctx context.Context, id string) (model.Memory, error) {
	var m model.Memory
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var err error
		m, err = uow.GetMemory(id)
		return err
	})
	return m, err
}

// UpdateMemory applies patch to the memory at id with last-writer-wins on
// scalar fields and add/remove/replace semantics on set-valued fields.
func (s *Store) UpdateMemory(ctx context.Context, id string, patch model.MemoryPatch, newEmbedding []float32) (model.Memory, error) {
	var updated model.Memory
	var prevNS string
	var prevLevel model.AccessLevel
	var prevSharedWith []string

	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		m, err := uow.GetMemory(id)
		if err != nil {
			return err
		}
		prevNS, prevLevel = m.Namespace, m.AccessLevel
		prevSharedWith = append([]string(nil), m.SharedWith...)

		if patch.Content != nil {
			m.Content = *patch.Content
		}
		if patch.Importance != nil {
			m.Importance = *patch.Importance
		}
		if patch.AccessLevel != nil {
			m.AccessLevel = *patch.AccessLevel
		}
		m.Tags = applySetPatch(m.Tags, patch.TagsReplace, patch.TagsAdd, patch.TagsRemove)
		m.SharedWith = applySetPatch(m.SharedWith, patch.SharedWithReplace, patch.SharedWithAdd, patch.SharedWithRemove)
		m.UpdatedAt = time.Now()
		if newEmbedding != nil {
			m.Embedding = newEmbedding
		}

		updated = m
		return uow.PutMemory(m, prevNS, prevLevel, prevSharedWith, true)
	})
	if err != nil {
		return model.Memory{}, err
	}

	s.lexical.Put(updated.ID, updated.Content)

	if newEmbedding != nil {
		vb, err := s.vectors.For(updated.Namespace)
		if err != nil {
			return model.Memory{}, tmwserr.Storage(err)
		}
		if err := vb.Upsert(ctx, updated.ID, updated.Content, updated.Embedding, map[string]string{
			"owner_agent_id": updated.OwnerAgentID,
			"access_level":   string(updated.AccessLevel),
		}); err != nil {
			return model.Memory{}, tmwserr.Storage(err)
		}
		if prevNS != updated.Namespace {
			if oldVB, err := s.vectors.For(prevNS); err == nil {
				_ = oldVB.Delete(ctx, updated.ID)
			}
		}
	}
	return updated, nil
}

func applySetPatch(current, replace, add, remove []string) []string {
	if replace != nil {
		return append([]string(nil), replace...)
	}
	set := make(map[string]bool, len(current))
	for _, v := range current {
		set[v] = true
	}
	for _, v := range add {
		set[v] = true
	}
	for _, v := range remove {
		delete(set, v)
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ArchiveMemory soft-deletes a memory by setting is_archived=true.
func (s *Store) ArchiveMemory(ctx context.Context, id string) error {
	return s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		m, err := uow.GetMemory(id)
		if err != nil {
			return err
		}
		m.IsArchived = true
		m.UpdatedAt = time.Now()
		return uow.PutMemory(m, m.Namespace, m.AccessLevel, m.SharedWith, true)
	})
}

// DeleteMemory hard-deletes a memory row and removes its embedding.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	var m model.Memory
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var err error
		m, err = uow.GetMemory(id)
		if err != nil {
			return err
		}
		return uow.DeleteMemory(m)
	})
	if err != nil {
		return err
	}
	s.lexical.Remove(id)
	if vb, verr := s.vectors.For(m.Namespace); verr == nil {
		_ = vb.Delete(ctx, id)
	}
	return nil
}

// Search performs the semantic ranking spec.md §4.C describes: top-k by
// cosine similarity among rows satisfying filters, ties broken by
// (importance DESC, updated_at DESC, id ASC). namespaces lists the vector
// collections to search across (typically the caller's own namespace plus
// any namespace a shared/public/system memory could live in).
func (s *Store) Search(ctx context.Context, queryVec []float32, namespaces []string, filters model.SearchFilters, k int, minSimilarity float64) ([]model.ScoredMemory, error) {
	var candidateIDs []string
	simByID := make(map[string]float64)

	for _, ns := range namespaces {
		vb, err := s.vectors.For(ns)
		if err != nil {
			return nil, tmwserr.Storage(err)
		}
		matches, err := vb.QueryEmbedding(ctx, queryVec, k*4+16)
		if err != nil {
			return nil, tmwserr.Storage(err)
		}
		for _, mt := range matches {
			if mt.Similarity < minSimilarity {
				continue
			}
			candidateIDs = append(candidateIDs, mt.ID)
			simByID[mt.ID] = mt.Similarity
		}
	}

	var results []model.ScoredMemory
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		for _, id := range candidateIDs {
			m, err := uow.GetMemory(id)
			if err != nil {
				continue // index/row drift; skip rather than fail the whole search
			}
			if !passesFilters(m, filters) {
				continue
			}
			results = append(results, model.ScoredMemory{Memory: m, Similarity: simByID[id]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	overlapIDs := make([]string, len(results))
	for i, r := range results {
		overlapIDs[i] = r.Memory.ID
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.UpdatedAt.Equal(b.Memory.UpdatedAt) {
			return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func passesFilters(m model.Memory, f model.SearchFilters) bool {
	if f.ExcludeArchived && m.IsArchived {
		return false
	}
	if f.OwnerAgentID != "" && m.OwnerAgentID != f.OwnerAgentID {
		return false
	}
	if f.Namespace != "" && m.Namespace != f.Namespace {
		return false
	}
	if len(f.AccessLevels) > 0 {
		found := false
		for _, lvl := range f.AccessLevels {
			if m.AccessLevel == lvl {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		tagSet := make(map[string]bool, len(m.Tags))
		for _, t := range m.Tags {
			tagSet[t] = true
		}
		for _, want := range f.Tags {
			if !tagSet[want] {
				return false
			}
		}
	}
	return true
}

// Recall performs a non-semantic paged listing ordered per order.
func (s *Store) Recall(ctx context.Context, filters model.SearchFilters, order model.RecallOrder, limit, offset int) ([]model.Memory, error) {
	var all []model.Memory
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var ids []string
		var err error
		switch {
		case filters.OwnerAgentID != "":
			ids, err = uow.ScanMemoriesByOwner(filters.OwnerAgentID)
		case filters.Namespace != "" && len(filters.AccessLevels) == 1:
			ids, err = uow.ScanMemoriesByNamespaceAccess(filters.Namespace, filters.AccessLevels[0])
		default:
			ids, err = uow.ScanAllMemoryIDs()
		}
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := uow.GetMemory(id)
			if err != nil {
				continue
			}
			if !passesFilters(m, filters) {
				continue
			}
			all = append(all, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		switch order {
		case model.OrderImportance:
			return all[i].Importance > all[j].Importance
		case model.OrderUpdatedDesc:
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		default:
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
	})

	if offset > len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// NamespacesSharedWith returns the distinct namespaces holding a memory
// whose SharedWith names grantee, via the grantee secondary index. Search
// uses this to expand its candidate namespace set to wherever a memory was
// actually shared with the principal, rather than a fixed reserved-namespace
// list that only happens to cover same-namespace grantees.
func (s *Store) NamespacesSharedWith(ctx context.Context, grantee string) ([]string, error) {
	seen := make(map[string]bool)
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		ids, err := uow.ScanMemoriesByGrantee(grantee)
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := uow.GetMemory(id)
			if err != nil {
				continue // index/row drift; skip rather than fail the whole scan
			}
			seen[m.Namespace] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	namespaces := make([]string, 0, len(seen))
	for ns := range seen {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// BumpAccess increments access_count and refreshes last_accessed_at without
// touching updated_at, per the invariant in spec.md §4.C. Bumps are
// coalesced in memory and flushed periodically rather than committed per
// read, mirroring the teacher's "don't save on every increment" batching in
// its context manager.
func (s *Store) BumpAccess(id string) {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	b := s.pendingBumps[id]
	b.count++
	b.last = time.Now()
	s.pendingBumps[id] = b
}

func (s *Store) flushBumps() {
	s.accessMu.Lock()
	pending := s.pendingBumps
	s.pendingBumps = make(map[string]accessBump)
	s.accessMu.Unlock()

	if len(pending) == 0 {
		return
	}
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		for id, b := range pending {
			m, err := uow.GetMemory(id)
			if err != nil {
				continue
			}
			m.AccessCount += b.count
			m.LastAccessedAt = b.last
			if err := uow.PutMemory(m, m.Namespace, m.AccessLevel, m.SharedWith, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("flush access-count bumps: %v", err)
	}
}

// AppendVersion snapshots a memory's pre-edit state as the next version
// number (current highest + 1) before the caller applies an update, so
// update_memory never loses the prior content.
func (s *Store) AppendVersion(ctx context.Context, snapshot model.Memory, editedBy string) (model.MemoryVersion, error) {
	var v model.MemoryVersion
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		existing, err := uow.ListVersions(snapshot.ID)
		if err != nil {
			return err
		}
		next := 1
		if len(existing) > 0 {
			next = existing[len(existing)-1].Version + 1
		}
		v = model.MemoryVersion{
			MemoryID: snapshot.ID,
			Version:  next,
			Content:  snapshot.Content,
			Tags:     append([]string(nil), snapshot.Tags...),
			EditedBy: editedBy,
			EditedAt: time.Now(),
		}
		return uow.PutVersion(v)
	})
	return v, err
}

// ListVersions returns a memory's version history, ascending.
func (s *Store) ListVersions(ctx context.Context, memoryID string) ([]model.MemoryVersion, error) {
	var versions []model.MemoryVersion
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var err error
		versions, err = uow.ListVersions(memoryID)
		return err
	})
	return versions, err
}

// PutAgent writes (or overwrites) an agent row.
func (s *Store) PutAgent(ctx context.Context, a model.Agent) error {
	return s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		prev, err := uow.GetAgent(a.AgentID)
		hadPrev := err == nil
		prevNS := ""
		if hadPrev {
			prevNS = prev.Namespace
		}
		return uow.PutAgent(a, prevNS, hadPrev)
	})
}

// GetAgent reads an agent row by id.
func (s *Store) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var a model.Agent
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var err error
		a, err = uow.GetAgent(id)
		return err
	})
	return a, err
}

// ListAgents returns every persisted agent, ordered by agent_id ascending.
func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		var err error
		agents, err = uow.ScanAllAgents()
		return err
	})
	return agents, err
}

// AncestorChain walks parent_memory_id links starting at id up to
// model.MaxCycleWalk hops, returning the ids visited. Used by the memory
// service to reject cyclic hierarchies before insert.
func (s *Store) AncestorChain(ctx context.Context, startParentID string) ([]string, error) {
	var chain []string
	err := s.rel.WithUnitOfWork(func(uow *UnitOfWork) error {
		cur := startParentID
		for i := 0; i < model.MaxCycleWalk && cur != ""; i++ {
			m, err := uow.GetMemory(cur)
			if err != nil {
				return err
			}
			chain = append(chain, m.ID)
			cur = m.ParentMemoryID
		}
		return nil
	})
	return chain, err
}
