package cascade

import (
	"fmt"
	"sync"

	"github.com/mohae/deepcopy"
)

// Store is the raw key-value state shared between nodes.
type Store map[string]any

// reservedKeys are memory accessor names that cannot be used as ordinary keys.
var reservedKeys = map[string]struct{}{
	"global": {},
	"local":  {},
	"clone":  {},
}

// Memory is the state view a node receives for one execution path. It layers
// a branch-local store over a global store: reads check local first, writes
// go to global, and Clone forks the local store while sharing the global one
// by reference.
type Memory struct {
	global Store
	local  Store

	// mu guards the global store. It is shared by every clone referencing
	// the same global store, so parallel branches can write distinct keys
	// safely. Writes to the same key remain last-write-wins; the engine
	// does not arbitrate them. The local store needs no lock because it is
	// never shared across branches.
	mu *sync.RWMutex
}

// NewMemory creates a memory view over the given global store. The store is
// retained by reference, not copied.
func NewMemory(global Store) *Memory {
	return NewMemoryWithLocal(global, nil)
}

// NewMemoryWithLocal creates a memory view with an explicit local store.
func NewMemoryWithLocal(global, local Store) *Memory {
	if global == nil {
		global = Store{}
	}
	if local == nil {
		local = Store{}
	}
	return &Memory{global: global, local: local, mu: &sync.RWMutex{}}
}

// Get returns the value for key, checking the local store before falling
// back to the global store.
func (m *Memory) Get(key string) (any, bool) {
	if v, ok := m.local[key]; ok {
		return v, true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.global[key]
	return v, ok
}

// Set writes key to the global store. Any local entry shadowing the key is
// removed so the new value is immediately visible. Reserved accessor names
// cannot be set.
func (m *Memory) Set(key string, value any) error {
	if _, reserved := reservedKeys[key]; reserved {
		return fmt.Errorf("%w: %q cannot be set", ErrReservedKey, key)
	}
	delete(m.local, key)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[key] = value
	return nil
}

// Delete removes key from both the local and global stores. It returns
// ErrKeyNotFound when the key is present in neither.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, inLocal := m.local[key]
	_, inGlobal := m.global[key]
	if !inLocal && !inGlobal {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	delete(m.local, key)
	delete(m.global, key)
	return nil
}

// Has reports whether key is present in either store.
func (m *Memory) Has(key string) bool {
	if _, ok := m.local[key]; ok {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.global[key]
	return ok
}

// Local returns a view restricted to the branch-local store. Writes and
// deletes through it never touch the global store.
func (m *Memory) Local() *LocalStore {
	return &LocalStore{data: m.local}
}

// Clone returns a new memory view for a child branch. The global store is
// shared by reference, the local store is deep-copied, and forkingData (if
// any) is merged on top of the copy, overwriting same-named local keys.
// The clone's local store is fully independent of the original's.
func (m *Memory) Clone(forkingData Store) *Memory {
	local := deepCopyStore(m.local)
	for k, v := range forkingData {
		local[k] = deepCopyValue(v)
	}
	return &Memory{global: m.global, local: local, mu: m.mu}
}

// localStore exposes the raw local store to the flow engine, which forwards
// it as forking data when a terminal trigger propagates out of a sub-flow.
func (m *Memory) localStore() Store {
	return m.local
}

// LocalStore is a scoped accessor over a memory view's local store.
type LocalStore struct {
	data Store
}

// Get returns the value for key in the local store only.
func (l *LocalStore) Get(key string) (any, bool) {
	v, ok := l.data[key]
	return v, ok
}

// Set writes key to the local store only.
func (l *LocalStore) Set(key string, value any) {
	l.data[key] = value
}

// Delete removes key from the local store. It returns ErrKeyNotFound when
// the key is absent.
func (l *LocalStore) Delete(key string) error {
	if _, ok := l.data[key]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	delete(l.data, key)
	return nil
}

// Has reports whether key is present in the local store.
func (l *LocalStore) Has(key string) bool {
	_, ok := l.data[key]
	return ok
}

// Len returns the number of keys in the local store.
func (l *LocalStore) Len() int {
	return len(l.data)
}

// Snapshot returns a deep copy of the local store for inspection.
func (l *LocalStore) Snapshot() Store {
	return deepCopyStore(l.data)
}

// deepCopyStore duplicates a store including nested maps and slices.
func deepCopyStore(s Store) Store {
	if s == nil {
		return Store{}
	}
	copied, ok := deepcopy.Copy(s).(Store)
	if !ok {
		// deepcopy preserves the concrete type, so this cannot happen for a
		// well-formed Store; fall back to an empty store rather than panic.
		return Store{}
	}
	return copied
}

func deepCopyValue(v any) any {
	return deepcopy.Copy(v)
}
