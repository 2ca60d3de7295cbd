// Package quota holds SnapshotStore implementations. The in-memory store
// lives here; Redis and PostgreSQL stores are in subpackages.
package quota

import (
	"context"
	"sync"

	"github.com/ineyio/keyrotor"
)

// MemoryStore is an in-process SnapshotStore. It survives pool rebuilds
// (for example a config reload) but not a process restart.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]map[string]int
}

var (
	_ keyrotor.SnapshotStore  = (*MemoryStore)(nil)
	_ keyrotor.SnapshotPruner = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]map[string]int)}
}

func storeKey(pool, day string) string { return pool + "/" + day }

// Load returns a copy of the stored snapshot for pool on day.
func (s *MemoryStore) Load(_ context.Context, pool, day string) (keyrotor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[string]int)
	for fp, n := range s.snaps[storeKey(pool, day)] {
		usage[fp] = n
	}
	return keyrotor.Snapshot{Pool: pool, Day: day, Usage: usage}, nil
}

// Save merges snap into the stored snapshot.
func (s *MemoryStore) Save(_ context.Context, snap keyrotor.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(snap.Pool, snap.Day)
	stored, ok := s.snaps[k]
	if !ok {
		stored = make(map[string]int, len(snap.Usage))
		s.snaps[k] = stored
	}
	for fp, n := range snap.Usage {
		if n > stored[fp] {
			stored[fp] = n
		}
	}
	return nil
}

// Prune drops snapshots for every day other than keepDay.
func (s *MemoryStore) Prune(_ context.Context, keepDay string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k := range s.snaps {
		if len(k) < len(keepDay) || k[len(k)-len(keepDay):] != keepDay {
			delete(s.snaps, k)
			removed++
		}
	}
	return removed, nil
}
