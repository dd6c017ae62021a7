package tools

import (
	"context"

	"github.com/apto-as/tmws/internal/memory"
	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

type createMemoryParams struct {
	Content        string            `json:"content"`
	Tags           []string          `json:"tags"`
	Importance     float64           `json:"importance"`
	AccessLevel    model.AccessLevel `json:"access_level"`
	ShareWith      []string          `json:"share_with"`
	AsAgent        string            `json:"as_agent"`
	ParentMemoryID string            `json:"parent_memory_id"`
}

func (p createMemoryParams) toRequest() memory.CreateMemoryRequest {
	return memory.CreateMemoryRequest{
		Content:        p.Content,
		Tags:           p.Tags,
		Importance:     p.Importance,
		AccessLevel:    p.AccessLevel,
		ShareWith:      p.ShareWith,
		AsAgent:        p.AsAgent,
		ParentMemoryID: p.ParentMemoryID,
	}
}

type memoryResult struct {
	Memory model.Memory `json:"memory"`
}

func (r *Router) createMemory(ctx context.Context, call Call) (any, error) {
	var p createMemoryParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	m, err := r.mem.CreateMemory(ctx, call.Principal, p.toRequest())
	if err != nil {
		return nil, err
	}
	return memoryResult{Memory: m}, nil
}

type createMemoriesBatchParams struct {
	Memories []createMemoryParams `json:"memories"`
}

func (r *Router) createMemoriesBatch(ctx context.Context, call Call) (any, error) {
	var p createMemoriesBatchParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	reqs := make([]memory.CreateMemoryRequest, len(p.Memories))
	for i, m := range p.Memories {
		reqs[i] = m.toRequest()
	}
	return r.mem.CreateMemoriesBatch(ctx, call.Principal, reqs), nil
}

type searchMemoriesParams struct {
	Query         string              `json:"query"`
	Limit         int                 `json:"limit"`
	MinSimilarity float64             `json:"min_similarity"`
	IncludeShared bool                `json:"include_shared"`
	Namespace     string              `json:"namespace"`
	Tags          []string            `json:"tags"`
	AccessFilter  []model.AccessLevel `json:"access_filter"`
}

type searchMemoriesResult struct {
	Results []model.ScoredMemory `json:"results"`
}

func (r *Router) searchMemories(ctx context.Context, call Call) (any, error) {
	var p searchMemoriesParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	out, err := r.mem.SearchMemories(ctx, call.Principal, memory.SearchRequest{
		Query:         p.Query,
		Limit:         p.Limit,
		MinSimilarity: p.MinSimilarity,
		IncludeShared: p.IncludeShared,
		Namespace:     p.Namespace,
		Tags:          p.Tags,
		AccessFilter:  p.AccessFilter,
	})
	if err != nil {
		return nil, err
	}
	return searchMemoriesResult{Results: out}, nil
}

type shareMemoryParams struct {
	MemoryID   string           `json:"memory_id"`
	Grantees   []string         `json:"grantees"`
	Permission model.Permission `json:"permission"`
}

func (r *Router) shareMemory(ctx context.Context, call Call) (any, error) {
	var p shareMemoryParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.MemoryID == "" {
		return nil, tmwserr.Validation("memory_id is required")
	}
	perm := p.Permission
	if perm == "" {
		perm = model.PermRead
	}
	m, err := r.mem.ShareMemory(ctx, call.Principal, p.MemoryID, p.Grantees, perm)
	if err != nil {
		return nil, err
	}
	return memoryResult{Memory: m}, nil
}

type updateMemoryParams struct {
	MemoryID string            `json:"memory_id"`
	Patch    model.MemoryPatch `json:"patch"`
}

func (r *Router) updateMemory(ctx context.Context, call Call) (any, error) {
	var p updateMemoryParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.MemoryID == "" {
		return nil, tmwserr.Validation("memory_id is required")
	}
	m, err := r.mem.UpdateMemory(ctx, call.Principal, p.MemoryID, p.Patch)
	if err != nil {
		return nil, err
	}
	return memoryResult{Memory: m}, nil
}

type deleteMemoryParams struct {
	MemoryID string `json:"memory_id"`
	Hard     bool   `json:"hard"`
}

func (r *Router) deleteMemory(ctx context.Context, call Call) (any, error) {
	var p deleteMemoryParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.MemoryID == "" {
		return nil, tmwserr.Validation("memory_id is required")
	}
	if err := r.mem.DeleteMemory(ctx, call.Principal, p.MemoryID, p.Hard); err != nil {
		return nil, err
	}
	return struct {
		Deleted string `json:"deleted"`
	}{Deleted: p.MemoryID}, nil
}

type recallMemoriesParams struct {
	Filters model.SearchFilters `json:"filters"`
	Order   model.RecallOrder   `json:"order"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

type recallMemoriesResult struct {
	Memories []model.Memory `json:"memories"`
}

func (r *Router) recallMemories(ctx context.Context, call Call) (any, error) {
	var p recallMemoriesParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	order := p.Order
	if order == "" {
		order = model.OrderCreatedDesc
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	out, err := r.mem.Recall(ctx, call.Principal, p.Filters, order, limit, p.Offset)
	if err != nil {
		return nil, err
	}
	return recallMemoriesResult{Memories: out}, nil
}

type memoryIDParams struct {
	MemoryID string `json:"memory_id"`
}

func (r *Router) getMemoryHistory(ctx context.Context, call Call) (any, error) {
	var p memoryIDParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.MemoryID == "" {
		return nil, tmwserr.Validation("memory_id is required")
	}
	return r.mem.GetMemoryHistory(ctx, call.Principal, p.MemoryID)
}

type restoreVersionParams struct {
	MemoryID string `json:"memory_id"`
	Version  int    `json:"version"`
}

func (r *Router) restoreVersion(ctx context.Context, call Call) (any, error) {
	var p restoreVersionParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.MemoryID == "" {
		return nil, tmwserr.Validation("memory_id is required")
	}
	m, err := r.mem.RestoreVersion(ctx, call.Principal, p.MemoryID, p.Version)
	if err != nil {
		return nil, err
	}
	return memoryResult{Memory: m}, nil
}
