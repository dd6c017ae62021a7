package storage

import (
	"strings"
	"sync"
)

// TrigramIndex is an in-process stand-in for the "GIN/trigram on content"
// index spec.md §4.C describes for a real relational database. Store keeps
// it current on insert, update and delete; Store.Search does not consult
// it, so search ranking uses cosine similarity with ties broken by
// importance, updated_at and id only.
type TrigramIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]bool // trigram -> set of memory ids
	docs  map[string]map[string]bool // memory id -> its trigram set, for removal
}

// NewTrigramIndex builds an empty index.
func NewTrigramIndex() *TrigramIndex {
	return &TrigramIndex{
		index: make(map[string]map[string]bool),
		docs:  make(map[string]map[string]bool),
	}
}

func trigrams(s string) map[string]bool {
	s = strings.ToLower(s)
	runes := []rune(s)
	set := make(map[string]bool)
	if len(runes) < 3 {
		if len(runes) > 0 {
			set[string(runes)] = true
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

// Put indexes (or re-indexes) id's content, replacing any prior entry.
func (t *TrigramIndex) Put(id, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
	grams := trigrams(content)
	t.docs[id] = grams
	for g := range grams {
		set, ok := t.index[g]
		if !ok {
			set = make(map[string]bool)
			t.index[g] = set
		}
		set[id] = true
	}
}

// Remove drops id from the index entirely.
func (t *TrigramIndex) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *TrigramIndex) removeLocked(id string) {
	prev, ok := t.docs[id]
	if !ok {
		return
	}
	for g := range prev {
		if set, ok := t.index[g]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(t.index, g)
			}
		}
	}
	delete(t.docs, id)
}

// Overlap returns, for each candidate id in ids, the fraction of query's
// trigrams also present in that document, as a value in [0,1].
func (t *TrigramIndex) Overlap(query string, ids []string) map[string]float64 {
	q := trigrams(query)
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]float64, len(ids))
	if len(q) == 0 {
		return out
	}
	for _, id := range ids {
		doc, ok := t.docs[id]
		if !ok {
			continue
		}
		var hits int
		for g := range q {
			if doc[g] {
				hits++
			}
		}
		out[id] = float64(hits) / float64(len(q))
	}
	return out
}
