package storage

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

func init() {
	if err := RegisterStorage(new(MemoryDB)); err != nil {
		panic(err)
	}
}

// MemoryDB is an in memory implementation of ServiceStorage that is safe for concurrent use.
// Contents do not survive a restart.
type MemoryDB struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]byte
	maxRetries int
	open       bool
}

func (m *MemoryDB) Init(opts ...Option) error {
	maxRetries, err := txMaxRetries(opts)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces = make(map[string]map[string][]byte)
	m.maxRetries = maxRetries
	m.open = true
	return nil
}

func (m *MemoryDB) Type() Type {
	return Memory
}

func (m *MemoryDB) URI() string {
	return "memory"
}

func (m *MemoryDB) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MemoryDB) Write(_ context.Context, namespace, key string, value []byte) error {
	if namespace == "" {
		return errors.New("namespace required")
	}
	if key == "" {
		return errors.New("key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(namespace, key, value)
	return nil
}

func (m *MemoryDB) put(namespace, key string, value []byte) {
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.namespaces[namespace] = ns
	}
	ns[key] = bytes.Clone(value)
}

func (m *MemoryDB) Read(_ context.Context, namespace, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.namespaces[namespace][key]), nil
}

func (m *MemoryDB) Exists(_ context.Context, namespace, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.namespaces[namespace][key]
	return ok, nil
}

func (m *MemoryDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	return m.ReadPrefix(ctx, namespace, "")
}

func (m *MemoryDB) ReadPrefix(_ context.Context, namespace, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := make(map[string][]byte)
	for k, v := range m.namespaces[namespace] {
		if strings.HasPrefix(k, prefix) {
			r[k] = bytes.Clone(v)
		}
	}
	return r, nil
}

func (m *MemoryDB) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return errors.Errorf("namespace<%s> does not exist", namespace)
	}
	delete(ns, key)
	return nil
}

func (m *MemoryDB) Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	return executeOptimistic(ctx, m, m.maxRetries, businessLogicFunc, watchKeys)
}

func (m *MemoryDB) commitIfUnchanged(_ context.Context, expected map[WatchKey][]byte, writes []pendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for wk, want := range expected {
		current, ok := m.namespaces[wk.Namespace][wk.Key]
		if ok != (want != nil) || !bytes.Equal(current, want) {
			return ErrConflict
		}
	}
	for _, w := range writes {
		m.put(w.Namespace, w.Key, w.value)
	}
	return nil
}

var _ ServiceStorage = (*MemoryDB)(nil)
