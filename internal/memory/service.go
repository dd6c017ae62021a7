// Package memory is the façade tool handlers call into. It orchestrates
// validation, embedding, access control, and storage in the fixed order
// spec.md §4.F requires, and enforces the invariants that only make sense
// at this layer: access_level=shared iff shared_with is non-empty, and
// parent_memory_id chains stay acyclic.
package memory

import (
	"context"
	"io"
	"log"
	"sort"
	"strconv"

	"github.com/apto-as/tmws/internal/access"
	"github.com/apto-as/tmws/internal/embedding"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/storage"
	"github.com/apto-as/tmws/internal/tmwserr"
	"github.com/apto-as/tmws/internal/validate"
)

// Service is the memory façade: one instance per server, shared across
// sessions.
type Service struct {
	store  *storage.Store
	embed  *embedding.Gateway
	engine *access.Engine
	reg    *registry.Registry
	logger *log.Logger
}

// New wires a Service from its four collaborators. logger defaults to
// discarding output when nil.
func New(store *storage.Store, embed *embedding.Gateway, engine *access.Engine, reg *registry.Registry, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: store, embed: embed, engine: engine, reg: reg, logger: logger}
}

// CreateMemoryRequest is create_memory's parameter set.
type CreateMemoryRequest struct {
	Content        string
	Tags           []string
	Importance     float64
	AccessLevel    model.AccessLevel
	ShareWith      []string
	AsAgent        string
	ParentMemoryID string
}

// resolvePrincipal honors an as_agent override: the caller must hold
// elevated+ to act as a different agent, matching execute_as_agent's
// permission check in spec.md §4.E/§4.F.
func (s *Service) resolvePrincipal(caller model.Agent, asAgent string) (model.Agent, error) {
	if asAgent == "" || asAgent == caller.AgentID {
		return caller, nil
	}
	if !model.AtLeast(caller.AccessLevel, "elevated") {
		return model.Agent{}, tmwserr.Permission("principal %q lacks elevated access required to act as %q", caller.AgentID, asAgent)
	}
	return s.reg.Resolve(asAgent)
}

// CreateMemory validates inputs, resolves the effective principal (honoring
// as_agent), embeds content, checks access/rate limits, and persists.
func (s *Service) CreateMemory(ctx context.Context, caller model.Agent, req CreateMemoryRequest) (model.Memory, error) {
	owner, err := s.resolvePrincipal(caller, req.AsAgent)
	if err != nil {
		return model.Memory{}, err
	}

	if err := validate.ValidateContent(req.Content); err != nil {
		return model.Memory{}, err
	}
	tags, err := validate.SanitizeTags(req.Tags)
	if err != nil {
		return model.Memory{}, err
	}
	level := req.AccessLevel
	if level == "" {
		level = model.AccessPrivate
	}
	sharedWith := append([]string(nil), req.ShareWith...)
	if len(sharedWith) > 0 {
		level = model.AccessShared
	} else if level == model.AccessShared {
		return model.Memory{}, tmwserr.Validation("access_level shared requires at least one share_with grantee")
	}
	if req.ParentMemoryID != "" {
		chain, err := s.store.AncestorChain(ctx, req.ParentMemoryID)
		if err != nil {
			return model.Memory{}, err
		}
		if err := checkAcyclic(chain); err != nil {
			return model.Memory{}, err
		}
	}

	vec, embedErr := s.embed.Embed(ctx, req.Content)
	if embedErr != nil {
		return model.Memory{}, embedErr
	}
	embedding.L2Normalize(vec)

	resource := access.Resource{OwnerAgentID: owner.AgentID, Namespace: owner.Namespace, AccessLevel: level, SharedWith: sharedWith}
	if _, err := s.engine.Evaluate(owner, access.OpWrite, resource); err != nil {
		return model.Memory{}, err
	}

	m := model.Memory{
		Content:        req.Content,
		Embedding:      vec,
		OwnerAgentID:   owner.AgentID,
		Namespace:      owner.Namespace,
		AccessLevel:    level,
		Tags:           tags,
		Importance:     req.Importance,
		SharedWith:     sharedWith,
		ParentMemoryID: req.ParentMemoryID,
	}
	return s.store.InsertMemory(ctx, m)
}

// checkAcyclic rejects an ancestor chain that revisits an id (an existing
// cycle reachable from the prospective parent) or that exhausts the walk
// budget without terminating.
func checkAcyclic(chain []string) error {
	seen := make(map[string]bool, len(chain))
	for _, id := range chain {
		if seen[id] {
			return tmwserr.Validation("parent_memory_id chain contains a cycle at %q", id)
		}
		seen[id] = true
	}
	if len(chain) >= model.MaxCycleWalk {
		return tmwserr.Validation("parent_memory_id chain exceeds the %d-hop walk bound", model.MaxCycleWalk)
	}
	return nil
}

// SearchRequest is search_memories' parameter set.
type SearchRequest struct {
	Query         string
	Limit         int
	MinSimilarity float64
	IncludeShared bool
	Namespace     string
	Tags          []string
	AccessFilter  []model.AccessLevel
}

// SearchMemories embeds query, searches the principal's visible namespaces,
// re-checks access control per candidate as defense in depth, and bumps
// access_count on every row actually returned.
func (s *Service) SearchMemories(ctx context.Context, principal model.Agent, req SearchRequest) ([]model.ScoredMemory, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	// Account for the search's rate-limit cost exactly once, up front,
	// rather than once per candidate row below. OpSearch routes this to the
	// dedicated searches bucket (spec.md §4.D: 100/min) instead of the
	// general requests bucket; the gate resource names principal as its own
	// owner, so the self-access rule always allows it regardless of op.
	gate := access.Resource{OwnerAgentID: principal.AgentID, Namespace: principal.Namespace, AccessLevel: model.AccessPrivate}
	if _, err := s.engine.Evaluate(principal, access.OpSearch, gate); err != nil {
		return nil, err
	}

	vec, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	embedding.L2Normalize(vec)

	namespaces := []string{principal.Namespace}
	if req.Namespace != "" {
		namespaces = []string{req.Namespace}
	} else if req.IncludeShared {
		shared, err := s.store.NamespacesSharedWith(ctx, principal.AgentID)
		if err != nil {
			return nil, err
		}
		for _, ns := range shared {
			if ns != principal.Namespace {
				namespaces = append(namespaces, ns)
			}
		}
	}

	filters := model.SearchFilters{
		Tags:            req.Tags,
		AccessLevels:    req.AccessFilter,
		ExcludeArchived: true,
	}
	results, err := s.store.Search(ctx, vec, namespaces, filters, req.Limit*3+10, req.MinSimilarity)
	if err != nil {
		return nil, err
	}

	visible := make([]model.ScoredMemory, 0, len(results))
	for _, r := range results {
		if !req.IncludeShared && r.Memory.OwnerAgentID != principal.AgentID {
			continue
		}
		res := access.ResourceFromMemory(r.Memory)
		if !s.engine.CanAccess(principal, access.OpRead, res) {
			continue
		}
		visible = append(visible, r)
	}
	if len(visible) > req.Limit {
		visible = visible[:req.Limit]
	}
	for _, r := range visible {
		s.store.BumpAccess(r.Memory.ID)
	}
	return visible, nil
}

// ShareMemory requires ownership or admin, validates grantees resolve to
// real agents, and maintains the access_level<->shared_with invariant:
// granting sets access_level to shared, clearing grantees reverts it.
func (s *Service) ShareMemory(ctx context.Context, principal model.Agent, memoryID string, grantees []string, permission model.Permission) (model.Memory, error) {
	m, err := s.store.GetMemory(ctx, memoryID)
	if err != nil {
		return model.Memory{}, err
	}
	if m.OwnerAgentID != principal.AgentID && !model.AtLeast(principal.AccessLevel, "admin") {
		return model.Memory{}, tmwserr.Permission("only the owner or an admin may share memory %q", memoryID)
	}
	for _, g := range grantees {
		if _, err := s.reg.Resolve(g); err != nil {
			return model.Memory{}, tmwserr.Validation("grantee %q does not resolve to a known agent", g)
		}
	}
	if len(grantees) > 0 {
		switch permission {
		case model.PermRead, model.PermWrite, model.PermDelete:
		default:
			return model.Memory{}, tmwserr.Validation("unknown permission %q", permission)
		}
	}

	newLevel := m.AccessLevel
	if len(grantees) > 0 {
		newLevel = model.AccessShared
	} else if m.AccessLevel == model.AccessShared {
		newLevel = model.AccessPrivate
	}
	// shared_with today is a flat grantee set (spec.md §3); permission is
	// validated against the ShareGrant enum but not yet persisted per-grantee.

	patch := model.MemoryPatch{
		AccessLevel:       &newLevel,
		SharedWithReplace: append([]string(nil), grantees...),
	}
	return s.store.UpdateMemory(ctx, memoryID, patch, nil)
}

// Recall performs a non-semantic paged listing scoped to what principal may
// see: its own rows plus, when no owner filter was requested, shared/
// public/system rows it can read.
func (s *Service) Recall(ctx context.Context, principal model.Agent, filters model.SearchFilters, order model.RecallOrder, limit, offset int) ([]model.Memory, error) {
	gate := access.Resource{OwnerAgentID: principal.AgentID, Namespace: principal.Namespace, AccessLevel: model.AccessPrivate}
	if _, err := s.engine.Evaluate(principal, access.OpRead, gate); err != nil {
		return nil, err
	}
	filters.ExcludeArchived = true
	rows, err := s.store.Recall(ctx, filters, order, 0, 0)
	if err != nil {
		return nil, err
	}

	visible := make([]model.Memory, 0, len(rows))
	for _, m := range rows {
		if s.engine.CanAccess(principal, access.OpRead, access.ResourceFromMemory(m)) {
			visible = append(visible, m)
		}
	}
	if offset > len(visible) {
		return nil, nil
	}
	visible = visible[offset:]
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

// UpdateMemory access-controls the write, snapshots the pre-edit state as a
// new MemoryVersion, re-embeds when content changed, and reconciles the
// shared_with<->access_level invariant before persisting.
func (s *Service) UpdateMemory(ctx context.Context, principal model.Agent, id string, patch model.MemoryPatch) (model.Memory, error) {
	current, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return model.Memory{}, err
	}
	if _, err := s.engine.Evaluate(principal, access.OpWrite, access.ResourceFromMemory(current)); err != nil {
		return model.Memory{}, err
	}

	if patch.Content != nil {
		if err := validate.ValidateContent(*patch.Content); err != nil {
			return model.Memory{}, err
		}
	}

	newSharedWith := mergeSet(current.SharedWith, patch.SharedWithReplace, patch.SharedWithAdd, patch.SharedWithRemove)
	if patch.AccessLevel == nil {
		reconciled := current.AccessLevel
		switch {
		case len(newSharedWith) > 0:
			reconciled = model.AccessShared
		case current.AccessLevel == model.AccessShared && len(newSharedWith) == 0:
			reconciled = model.AccessPrivate
		}
		if reconciled != current.AccessLevel {
			patch.AccessLevel = &reconciled
		}
	} else if (*patch.AccessLevel == model.AccessShared) != (len(newSharedWith) > 0) {
		return model.Memory{}, tmwserr.Validation("access_level shared requires a non-empty shared_with, and only shared may have one")
	}

	if _, err := s.store.AppendVersion(ctx, current, principal.AgentID); err != nil {
		return model.Memory{}, err
	}

	var newEmbedding []float32
	if patch.Content != nil {
		vec, err := s.embed.Embed(ctx, *patch.Content)
		if err != nil {
			return model.Memory{}, err
		}
		embedding.L2Normalize(vec)
		newEmbedding = vec
	}

	return s.store.UpdateMemory(ctx, id, patch, newEmbedding)
}

func mergeSet(current, replace, add, remove []string) []string {
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

// DeleteMemory access-controls the delete; a hard delete is permitted only
// for an admin principal with hard=true, otherwise the row is soft-archived.
func (s *Service) DeleteMemory(ctx context.Context, principal model.Agent, id string, hard bool) error {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.engine.Evaluate(principal, access.OpDelete, access.ResourceFromMemory(m)); err != nil {
		return err
	}
	if hard && model.AtLeast(principal.AccessLevel, "admin") {
		return s.store.DeleteMemory(ctx, id)
	}
	return s.store.ArchiveMemory(ctx, id)
}

// BatchCreateResult reports partial failure across a batch create, grounded
// on the teacher's BatchOperationResult shape.
type BatchCreateResult struct {
	Created  []model.Memory `json:"created"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// BatchFailure records which input index failed and why.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// CreateMemoriesBatch creates each request independently, collecting
// successes and per-item failures rather than aborting the whole batch on
// the first error.
func (s *Service) CreateMemoriesBatch(ctx context.Context, caller model.Agent, reqs []CreateMemoryRequest) BatchCreateResult {
	var result BatchCreateResult
	for i, req := range reqs {
		m, err := s.CreateMemory(ctx, caller, req)
		if err != nil {
			result.Failures = append(result.Failures, BatchFailure{Index: i, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, m)
	}
	return result
}

// GetMemoryHistory returns the current row plus its full version trail.
func (s *Service) GetMemoryHistory(ctx context.Context, principal model.Agent, id string) (model.MemoryWithHistory, error) {
	m, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return model.MemoryWithHistory{}, err
	}
	if _, err := s.engine.Evaluate(principal, access.OpRead, access.ResourceFromMemory(m)); err != nil {
		return model.MemoryWithHistory{}, err
	}
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return model.MemoryWithHistory{}, err
	}
	return model.MemoryWithHistory{Current: m, History: versions}, nil
}

// RestoreVersion rolls a memory's content/tags back to a prior version,
// snapshotting the current state into history first so the restore itself
// is reversible.
func (s *Service) RestoreVersion(ctx context.Context, principal model.Agent, id string, version int) (model.Memory, error) {
	current, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return model.Memory{}, err
	}
	if _, err := s.engine.Evaluate(principal, access.OpWrite, access.ResourceFromMemory(current)); err != nil {
		return model.Memory{}, err
	}
	versions, err := s.store.ListVersions(ctx, id)
	if err != nil {
		return model.Memory{}, err
	}
	var target *model.MemoryVersion
	for i := range versions {
		if versions[i].Version == version {
			target = &versions[i]
			break
		}
	}
	if target == nil {
		return model.Memory{}, tmwserr.NotFound("memory_version", strconv.Itoa(version))
	}

	if _, err := s.store.AppendVersion(ctx, current, principal.AgentID); err != nil {
		return model.Memory{}, err
	}

	vec, err := s.embed.Embed(ctx, target.Content)
	if err != nil {
		return model.Memory{}, err
	}
	embedding.L2Normalize(vec)

	content := target.Content
	patch := model.MemoryPatch{Content: &content, TagsReplace: target.Tags}
	return s.store.UpdateMemory(ctx, id, patch, vec)
}
