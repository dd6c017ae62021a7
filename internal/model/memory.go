package model

import "time"

// EmbeddingDim is the default vector width produced by the embedding gateway.
const EmbeddingDim = 384

// MaxContentBytes bounds Memory.Content per the wire/storage contract.
const MaxContentBytes = 65535

// MaxTags and MaxTagBytes bound Memory.Tags.
const (
	MaxTags    = 32
	MaxTagBytes = 32
)

// MaxCycleWalk bounds the ancestor walk used to reject cyclic parent chains.
const MaxCycleWalk = 64

// Permission is one edge of an implicit ShareGrant carried in shared_with.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"
)

// ShareGrant is the permission edge {memory_id, grantee_agent_id, permission}
// spec.md §3 describes as implicit, carried inline on Memory.shared_with.
// It is materialized here so the access-control and memory-service layers
// have a typed value to pass around instead of re-deriving it from the set.
type ShareGrant struct {
	MemoryID       string     `json:"memory_id"`
	GranteeAgentID string     `json:"grantee_agent_id"`
	Permission     Permission `json:"permission"`
}

// Memory is a unit of stored knowledge, owned by exactly one Agent.
type Memory struct {
	ID              string      `json:"id"`
	Content         string      `json:"content"`
	Embedding       []float32   `json:"embedding,omitempty"`
	OwnerAgentID    string      `json:"owner_agent_id"`
	Namespace       string      `json:"namespace"`
	AccessLevel     AccessLevel `json:"access_level"`
	Tags            []string    `json:"tags"`
	Importance      float64     `json:"importance"`
	SharedWith      []string    `json:"shared_with"`
	ParentMemoryID  string      `json:"parent_memory_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastAccessedAt  time.Time   `json:"last_accessed_at"`
	AccessCount     int64       `json:"access_count"`
	IsArchived      bool        `json:"is_archived"`

	// MemoryType is a supplemental classification (not in spec.md's base
	// data model) carried over from the original agent/task split so the
	// service layer can distinguish free-form notes from task artifacts.
	MemoryType string `json:"memory_type,omitempty"`
}

// ScoredMemory pairs a Memory with its cosine similarity to a query vector,
// as returned by the storage layer's search operation.
type ScoredMemory struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// MemoryPatch is a partial update: nil fields are left untouched, set-valued
// fields distinguish "replace" from "add"/"remove" per spec.md §4.C.
type MemoryPatch struct {
	Content     *string      `json:"content,omitempty"`
	Importance  *float64     `json:"importance,omitempty"`
	AccessLevel *AccessLevel `json:"access_level,omitempty"`

	TagsReplace []string `json:"tags_replace,omitempty"`
	TagsAdd     []string `json:"tags_add,omitempty"`
	TagsRemove  []string `json:"tags_remove,omitempty"`

	SharedWithReplace []string `json:"shared_with_replace,omitempty"`
	SharedWithAdd     []string `json:"shared_with_add,omitempty"`
	SharedWithRemove  []string `json:"shared_with_remove,omitempty"`
}

// SearchFilters narrows a storage-layer search or recall to the rows a
// principal is permitted to see; constructed by the memory service from the
// caller's access rights, never taken verbatim from the wire.
type SearchFilters struct {
	OwnerAgentID  string
	Namespace     string
	AccessLevels  []AccessLevel
	Tags          []string
	IncludeShared bool
	ForAgentID    string // principal on whose behalf the filter is evaluated
	ExcludeArchived bool
}

// RecallOrder is the sort applied by a non-semantic paged listing.
type RecallOrder string

const (
	OrderCreatedDesc RecallOrder = "created_desc"
	OrderUpdatedDesc RecallOrder = "updated_desc"
	OrderImportance  RecallOrder = "importance_desc"
)

// MemoryVersion is a supplemental feature (history/versioning) beyond
// spec.md's base data model, grounded on the teacher's version_manager.go.
type MemoryVersion struct {
	MemoryID  string    `json:"memory_id"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	EditedBy  string    `json:"edited_by"`
	EditedAt  time.Time `json:"edited_at"`
}

// MemoryWithHistory bundles the current row with its past versions for the
// export/restore tool handlers.
type MemoryWithHistory struct {
	Current Memory          `json:"current"`
	History []MemoryVersion `json:"history"`
}
