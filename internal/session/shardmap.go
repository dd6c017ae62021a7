// Package session owns per-connection runtime state: the Session map
// (sharded to reduce lock contention, per spec.md §5), lifecycle
// transitions, and the single-writer rule guarding each Session's
// current-agent slot.
package session

import (
	"hash/fnv"
	"sync"

	"github.com/apto-as/tmws/internal/model"
)

const shardCount = 16

// shardMap is a fixed array of mutex-guarded maps keyed by
// fnv32a(session_id) % 16, following the concurrent-map-by-sharding pattern
// rather than pulling in a general-purpose concurrent map dependency.
type shardMap struct {
	shards [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
}

// Entry pairs a Session's runtime state with the mutex that enforces the
// single-writer rule over its current-agent slot.
type Entry struct {
	mu      sync.Mutex
	Session *model.Session
}

// Lock acquires the entry's single-writer lock; callers must Unlock.
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

func newShardMap() *shardMap {
	sm := &shardMap{}
	for i := range sm.shards {
		sm.shards[i].sessions = make(map[string]*Entry)
	}
	return sm
}

func shardIndex(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32() % shardCount
}

func (sm *shardMap) put(id string, e *Entry) {
	s := &sm.shards[shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = e
}

func (sm *shardMap) get(id string) (*Entry, bool) {
	s := &sm.shards[shardIndex(id)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func (sm *shardMap) delete(id string) {
	s := &sm.shards[shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (sm *shardMap) count() int {
	n := 0
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		n += len(sm.shards[i].sessions)
		sm.shards[i].mu.RUnlock()
	}
	return n
}

// forEach calls fn for a snapshot of every entry; fn must not mutate the
// map itself.
func (sm *shardMap) forEach(fn func(id string, e *Entry)) {
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		snapshot := make(map[string]*Entry, len(sm.shards[i].sessions))
		for k, v := range sm.shards[i].sessions {
			snapshot[k] = v
		}
		sm.shards[i].mu.RUnlock()
		for k, v := range snapshot {
			fn(k, v)
		}
	}
}
