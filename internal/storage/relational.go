package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// Key prefixes for the Badger-backed relational store. Every row is JSON
// rather than a typed binary encoding, matching the teacher's badger usage
// in version_manager.go.
const (
	prefixAgent         = "agent:"
	prefixAgentNS       = "agent_idx_ns:"
	prefixMemory        = "memory:"
	prefixMemoryOwner   = "memory_idx_owner:"
	prefixMemoryNSAcc   = "memory_idx_ns_access:"
	prefixMemoryGrantee = "memory_idx_grantee:"
	prefixVersion       = "version:"
)

// RelationalStore is the row-oriented side of the storage layer: agents and
// memories, with secondary indexes maintained alongside the primary row
// inside the same Badger transaction.
type RelationalStore struct {
	db *badger.DB
}

// OpenRelationalStore opens (or creates) a Badger database at dir.
func OpenRelationalStore(dir string) (*RelationalStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %s: %w", dir, err)
	}
	return &RelationalStore{db: db}, nil
}

func (s *RelationalStore) Close() error {
	return s.db.Close()
}

// UnitOfWork lets callers compose multiple relational mutations inside one
// Badger transaction, per spec.md §4.C's abstract UnitOfWork requirement.
type UnitOfWork struct {
	txn *badger.Txn
}

// WithUnitOfWork runs fn inside a single read-write transaction, committing
// on success and rolling back on any error or panic. Errors already
// belonging to the taxonomy (e.g. ErrNotFound raised by uow.GetMemory) pass
// through unwrapped; only unexpected Badger failures become ErrStorage.
func (s *RelationalStore) WithUnitOfWork(fn func(uow *UnitOfWork) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&UnitOfWork{txn: txn})
	})
	if err != nil {
		var terr *tmwserr.Error
		if errors.As(err, &terr) {
			return err
		}
		return tmwserr.Storage(err)
	}
	return nil
}

func memoryKey(id string) []byte     { return []byte(prefixMemory + id) }
func agentKey(id string) []byte      { return []byte(prefixAgent + id) }
func ownerIdxKey(owner, id string) []byte {
	return []byte(prefixMemoryOwner + owner + ":" + id)
}
func nsAccIdxKey(ns string, level model.AccessLevel, id string) []byte {
	return []byte(prefixMemoryNSAcc + ns + ":" + string(level) + ":" + id)
}
func agentNSIdxKey(ns, id string) []byte {
	return []byte(prefixAgentNS + ns + ":" + id)
}
func granteeIdxKey(grantee, id string) []byte {
	return []byte(prefixMemoryGrantee + grantee + ":" + id)
}
func versionKey(memoryID string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixVersion, memoryID, version))
}

// PutMemory writes (or overwrites) a memory row and its secondary indexes.
// prevSharedWith is the grantee set the row carried before this write (nil
// for a brand-new row), used to reconcile the grantee index with m's
// current SharedWith.
func (uow *UnitOfWork) PutMemory(m model.Memory, prevNamespace string, prevLevel model.AccessLevel, prevSharedWith []string, hadPrev bool) error {
	if hadPrev {
		_ = uow.txn.Delete(ownerIdxKey(m.OwnerAgentID, m.ID))
		_ = uow.txn.Delete(nsAccIdxKey(prevNamespace, prevLevel, m.ID))
		for _, g := range prevSharedWith {
			_ = uow.txn.Delete(granteeIdxKey(g, m.ID))
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal memory %s: %w", m.ID, err)
	}
	if err := uow.txn.Set(memoryKey(m.ID), data); err != nil {
		return err
	}
	if err := uow.txn.Set(ownerIdxKey(m.OwnerAgentID, m.ID), nil); err != nil {
		return err
	}
	if err := uow.txn.Set(nsAccIdxKey(m.Namespace, m.AccessLevel, m.ID), nil); err != nil {
		return err
	}
	for _, g := range m.SharedWith {
		if err := uow.txn.Set(granteeIdxKey(g, m.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// GetMemory reads a memory row by id.
func (uow *UnitOfWork) GetMemory(id string) (model.Memory, error) {
	item, err := uow.txn.Get(memoryKey(id))
	if err == badger.ErrKeyNotFound {
		return model.Memory{}, tmwserr.NotFound("memory", id)
	}
	if err != nil {
		return model.Memory{}, fmt.Errorf("get memory %s: %w", id, err)
	}
	var m model.Memory
	err = item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
	if err != nil {
		return model.Memory{}, fmt.Errorf("decode memory %s: %w", id, err)
	}
	return m, nil
}

// DeleteMemory removes a memory row and its secondary indexes.
func (uow *UnitOfWork) DeleteMemory(m model.Memory) error {
	if err := uow.txn.Delete(memoryKey(m.ID)); err != nil {
		return err
	}
	if err := uow.txn.Delete(ownerIdxKey(m.OwnerAgentID, m.ID)); err != nil {
		return err
	}
	if err := uow.txn.Delete(nsAccIdxKey(m.Namespace, m.AccessLevel, m.ID)); err != nil {
		return err
	}
	for _, g := range m.SharedWith {
		if err := uow.txn.Delete(granteeIdxKey(g, m.ID)); err != nil {
			return err
		}
	}
	return nil
}

// PutAgent writes (or overwrites) an agent row and its namespace index.
func (uow *UnitOfWork) PutAgent(a model.Agent, prevNamespace string, hadPrev bool) error {
	if hadPrev && prevNamespace != a.Namespace {
		_ = uow.txn.Delete(agentNSIdxKey(prevNamespace, a.AgentID))
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", a.AgentID, err)
	}
	if err := uow.txn.Set(agentKey(a.AgentID), data); err != nil {
		return err
	}
	return uow.txn.Set(agentNSIdxKey(a.Namespace, a.AgentID), nil)
}

// GetAgent reads an agent row by id.
func (uow *UnitOfWork) GetAgent(id string) (model.Agent, error) {
	item, err := uow.txn.Get(agentKey(id))
	if err == badger.ErrKeyNotFound {
		return model.Agent{}, tmwserr.NotFound("agent", id)
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("get agent %s: %w", id, err)
	}
	var a model.Agent
	err = item.Value(func(val []byte) error { return json.Unmarshal(val, &a) })
	if err != nil {
		return model.Agent{}, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return a, nil
}

// PutVersion appends a version snapshot under a key that sorts ascending by
// version number for a given memory id.
func (uow *UnitOfWork) PutVersion(v model.MemoryVersion) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version %s#%d: %w", v.MemoryID, v.Version, err)
	}
	return uow.txn.Set(versionKey(v.MemoryID, v.Version), data)
}

// ListVersions returns every recorded version of memoryID, ascending by
// version number.
func (uow *UnitOfWork) ListVersions(memoryID string) ([]model.MemoryVersion, error) {
	it := uow.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var versions []model.MemoryVersion
	prefix := []byte(prefixVersion + memoryID + ":")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var v model.MemoryVersion
		err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) })
		if err != nil {
			return nil, fmt.Errorf("decode version row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// ScanMemoriesByOwner returns every memory id owned by owner, ascending.
func (uow *UnitOfWork) ScanMemoriesByOwner(owner string) ([]string, error) {
	return scanIDsAfterPrefix(uow.txn, prefixMemoryOwner+owner+":")
}

// ScanMemoriesByNamespaceAccess returns every memory id in (ns, level).
func (uow *UnitOfWork) ScanMemoriesByNamespaceAccess(ns string, level model.AccessLevel) ([]string, error) {
	return scanIDsAfterPrefix(uow.txn, prefixMemoryNSAcc+ns+":"+string(level)+":")
}

// ScanMemoriesByGrantee returns every memory id whose SharedWith names
// grantee, ascending.
func (uow *UnitOfWork) ScanMemoriesByGrantee(grantee string) ([]string, error) {
	return scanIDsAfterPrefix(uow.txn, prefixMemoryGrantee+grantee+":")
}

// ScanAllMemoryIDs returns every memory id in the store, ascending.
func (uow *UnitOfWork) ScanAllMemoryIDs() ([]string, error) {
	it := uow.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var ids []string
	prefix := []byte(prefixMemory)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		ids = append(ids, strings.TrimPrefix(key, prefixMemory))
	}
	sort.Strings(ids)
	return ids, nil
}

// ScanAllAgents returns every agent row, ordered by agent_id ascending.
func (uow *UnitOfWork) ScanAllAgents() ([]model.Agent, error) {
	it := uow.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var agents []model.Agent
	prefix := []byte(prefixAgent)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		// skip the secondary namespace index, which shares no overlap with
		// the primary prefix since it is stored under prefixAgentNS.
		var a model.Agent
		err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &a) })
		if err != nil {
			return nil, fmt.Errorf("decode agent row: %w", err)
		}
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents, nil
}

func scanIDsAfterPrefix(txn *badger.Txn, prefix string) ([]string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var ids []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		key := string(it.Item().Key())
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(ids)
	return ids, nil
}
