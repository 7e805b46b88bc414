package kvstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It is the reference backend for tests and
// for single-node development.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memTxn{base: m.data})
}

// Update holds the write lock for the whole callback; inserts are staged
// and only merged into the store when fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(Txn) error) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	txn := &memTxn{base: m.data, staged: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	for k, v := range txn.staged {
		m.data[k] = v
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type memTxn struct {
	base   map[string][]byte
	staged map[string][]byte // nil for read-only views
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	if v, ok := t.staged[string(key)]; ok {
		return clone(v), nil
	}
	if v, ok := t.base[string(key)]; ok {
		return clone(v), nil
	}
	return nil, ErrNotFound
}

func (t *memTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	var keys []string
	for k := range t.base {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	for k := range t.staged {
		if _, dup := t.base[k]; !dup && strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare([]byte(keys[i]), []byte(keys[j])) < 0
	})
	for _, k := range keys {
		v, ok := t.staged[k]
		if !ok {
			v = t.base[k]
		}
		if err := fn([]byte(k), clone(v)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTxn) InsertIfAbsent(key, value []byte) error {
	if t.staged == nil {
		return ErrReadOnly
	}
	k := string(key)
	if _, ok := t.base[k]; ok {
		return ErrKeyExists
	}
	if _, ok := t.staged[k]; ok {
		return ErrKeyExists
	}
	t.staged[k] = clone(value)
	return nil
}
