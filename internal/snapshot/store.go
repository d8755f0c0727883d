package snapshot

import (
	"context"
	"sort"
	"sync"

	"SignalSentinel/internal/model"
)

// Store holds the latest snapshot per symbol. Put replaces a symbol's
// snapshot atomically; readers observe either the old or the new one.
type Store interface {
	Get(ctx context.Context, symbol string) (*model.Snapshot, error)
	Put(ctx context.Context, snap *model.Snapshot) error
	// All returns one consistent read of every stored snapshot.
	All(ctx context.Context) (map[string]*model.Snapshot, error)
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*model.Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*model.Snapshot)}
}

func (m *MemoryStore) Get(_ context.Context, symbol string) (*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[symbol]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, snap *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Symbol] = snap
	return nil
}

func (m *MemoryStore) All(_ context.Context) (map[string]*model.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.Snapshot, len(m.snaps))
	for k, v := range m.snaps {
		out[k] = v
	}
	return out, nil
}

// Symbols returns the sorted symbol list of a snapshot map.
func Symbols(snaps map[string]*model.Snapshot) []string {
	out := make([]string, 0, len(snaps))
	for s := range snaps {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
