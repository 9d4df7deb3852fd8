package orchestrator

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/pkg/fsutil"
)

// backupSnapshotEntry is cache.SnapshotEntry's JSON-stable wire shape;
// TTLRemaining is persisted as nanoseconds so a round trip through disk
// reproduces the exact time.Duration.
type backupSnapshotEntry struct {
	Value            string `json:"value"`
	TTLRemainingNano int64  `json:"ttl_remaining_ns"`
}

type backupFile struct {
	TenantID string                         `json:"tenant_id"`
	Entries  map[string]backupSnapshotEntry `json:"entries"`
}

// backupStore persists create_backup/restore_backup snapshots. When dir
// is empty, snapshots only ever live in the in-process fallback map;
// a path is never required.
type backupStore struct {
	dir string

	mu       sync.Mutex
	fallback map[string]cache.Snapshot
}

func newBackupStore(dir string) *backupStore {
	return &backupStore{dir: dir, fallback: make(map[string]cache.Snapshot)}
}

// Save persists snap, either to path (if non-empty, resolved safely
// under the store's directory) or to the in-memory fallback keyed by
// tenant ID.
func (b *backupStore) Save(path string, snap cache.Snapshot) (string, error) {
	if path == "" {
		b.mu.Lock()
		b.fallback[snap.TenantID] = snap
		b.mu.Unlock()
		return "", nil
	}

	resolved, err := b.resolve(path)
	if err != nil {
		return "", err
	}
	if err := fsutil.EnsureDir(resolved); err != nil {
		return "", cacheerr.Wrap(cacheerr.Internal, "failed to create backup directory", err)
	}

	encoded := backupFile{TenantID: snap.TenantID, Entries: make(map[string]backupSnapshotEntry, len(snap.Entries))}
	for k, e := range snap.Entries {
		encoded.Entries[k] = backupSnapshotEntry{Value: e.Value, TTLRemainingNano: int64(e.TTLRemaining)}
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return "", cacheerr.Wrap(cacheerr.Internal, "failed to encode backup", err)
	}
	if err := os.WriteFile(resolved, data, 0640); err != nil {
		return "", cacheerr.Wrap(cacheerr.Internal, "failed to write backup file", err)
	}
	return resolved, nil
}

// Load reads a snapshot back, preferring an on-disk path when given and
// otherwise falling back to the last in-memory backup for tenantID.
func (b *backupStore) Load(path, tenantID string) (cache.Snapshot, error) {
	if path == "" {
		b.mu.Lock()
		snap, ok := b.fallback[tenantID]
		b.mu.Unlock()
		if !ok {
			return cache.Snapshot{}, cacheerr.New(cacheerr.NotFound, "no backup found for tenant: "+tenantID)
		}
		return snap, nil
	}

	resolved, err := b.resolve(path)
	if err != nil {
		return cache.Snapshot{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return cache.Snapshot{}, cacheerr.Wrap(cacheerr.NotFound, "failed to read backup file", err)
	}
	var decoded backupFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		return cache.Snapshot{}, cacheerr.Wrap(cacheerr.Internal, "failed to decode backup file", err)
	}

	snap := cache.Snapshot{TenantID: decoded.TenantID, Entries: make(map[string]cache.SnapshotEntry, len(decoded.Entries))}
	for k, e := range decoded.Entries {
		snap.Entries[k] = cache.SnapshotEntry{Value: e.Value, TTLRemaining: time.Duration(e.TTLRemainingNano)}
	}
	return snap, nil
}

func (b *backupStore) resolve(path string) (string, error) {
	if b.dir == "" {
		sanitized, err := fsutil.SanitizePath(path)
		if err != nil {
			return "", cacheerr.Wrap(cacheerr.InvalidArgument, "invalid backup path", err)
		}
		return sanitized, nil
	}
	joined, err := fsutil.SafeJoin(b.dir, path)
	if err != nil {
		return "", cacheerr.Wrap(cacheerr.InvalidArgument, "invalid backup path", err)
	}
	return joined, nil
}
