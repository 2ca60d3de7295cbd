package keyrotor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Snapshot is a point-in-time copy of a pool's counters.
// Usage is keyed by Fingerprint, never by raw key.
type Snapshot struct {
	Pool  string
	Day   string
	Usage map[string]int
}

// SnapshotStore persists pool snapshots so a restart within the same day
// does not hand out keys that were already used up.
//
// Counters only grow within a day, so stores merge rather than overwrite.
// A store does not coordinate selection between processes.
type SnapshotStore interface {
	// Load returns the snapshot saved for pool on day. A missing snapshot
	// is not an error; it returns an empty Snapshot.
	Load(ctx context.Context, pool, day string) (Snapshot, error)

	// Save merges s into the snapshot for the same pool and day, keeping
	// the larger count per fingerprint.
	Save(ctx context.Context, s Snapshot) error
}

// SnapshotPruner is implemented by stores that keep past days until told
// to drop them. RunSnapshots prunes whenever the pool's day changes.
type SnapshotPruner interface {
	// Prune deletes snapshots for every day other than keepDay and returns
	// the number of entries removed.
	Prune(ctx context.Context, keepDay string) (int64, error)
}

// RestoreFrom loads today's snapshot for p from store and applies it.
func RestoreFrom(ctx context.Context, p *Pool, store SnapshotStore) (int, error) {
	s, err := store.Load(ctx, p.Name(), p.Day())
	if err != nil {
		return 0, fmt.Errorf("keyrotor: load snapshot: %w", err)
	}
	return p.Restore(s), nil
}

// RunSnapshots saves p to store immediately, then every interval until ctx
// is done, then once more. If store is a SnapshotPruner, other days are pruned
// after the first successful save of each day. Failures are logged and do not
// stop the loop.
func RunSnapshots(ctx context.Context, p *Pool, store SnapshotStore, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	pruner, _ := store.(SnapshotPruner)
	var prunedDay string

	save := func(ctx context.Context) {
		s := p.Snapshot()
		if err := store.Save(ctx, s); err != nil {
			logger.Warn("snapshot_save_failed", "pool", s.Pool, "day", s.Day, "error", err)
			return
		}
		logger.Debug("snapshot_saved", "pool", s.Pool, "day", s.Day, "keys", len(s.Usage))

		if pruner == nil || s.Day == prunedDay {
			return
		}
		n, err := pruner.Prune(ctx, s.Day)
		if err != nil {
			logger.Warn("snapshot_prune_failed", "pool", s.Pool, "day", s.Day, "error", err)
			return
		}
		prunedDay = s.Day
		if n > 0 {
			logger.Info("snapshot_pruned", "pool", s.Pool, "keep_day", s.Day, "removed", n)
		}
	}

	save(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			save(final)
			cancel()
			return nil
		case <-ticker.C:
			save(ctx)
		}
	}
}
