package store

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore is an in-memory KV used by unit tests and by the simulator
// harness; it keeps keys in a sorted slice so ScanPrefix has the same
// ordering guarantee the Pebble-backed store provides.
type MemStore struct {
	mu   sync.RWMutex
	keys []string // sorted
	data map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value)
	return nil
}

func (m *MemStore) setLocked(key, value []byte) {
	k := string(key)
	if _, exists := m.data[k]; !exists {
		i := sort.SearchStrings(m.keys, k)
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = k
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[k] = v
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *MemStore) deleteLocked(key []byte) {
	k := string(key)
	if _, exists := m.data[k]; !exists {
		return
	}
	delete(m.data, k)
	i := sort.SearchStrings(m.keys, k)
	if i < len(m.keys) && m.keys[i] == k {
		m.keys = append(m.keys[:i], m.keys[i+1:]...)
	}
}

func (m *MemStore) ScanPrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	m.mu.RLock()
	start := sort.SearchStrings(m.keys, string(prefix))
	keys := make([]string, 0, len(m.keys)-start)
	for i := start; i < len(m.keys); i++ {
		if !bytes.HasPrefix([]byte(m.keys[i]), prefix) {
			break
		}
		keys = append(keys, m.keys[i])
	}
	m.mu.RUnlock()

	for _, k := range keys {
		m.mu.RLock()
		v, ok := m.data[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		cont, err := fn([]byte(k), v)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (m *MemStore) NewBatch() Batch {
	return &memBatch{store: m}
}

func (m *MemStore) Close() error { return nil }

type memOp struct {
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	store *MemStore
	ops   []memOp
}

func (b *memBatch) Set(key, value []byte) {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), delete: true})
}

func (b *memBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			b.store.deleteLocked(op.key)
		} else {
			b.store.setLocked(op.key, op.value)
		}
	}
	return nil
}
