package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot is a point-in-time capture of working state.
// Seq is the next sequence number the owner would assign.
type Snapshot struct {
	Seq    uint64          `json:"seq"`
	TsUnix int64           `json:"ts"` // unix millis
	State  json.RawMessage `json:"state"`
}

// NewSnapshot wraps state at seq.
func NewSnapshot(seq uint64, state any) (*Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &Snapshot{Seq: seq, TsUnix: time.Now().UnixMilli(), State: raw}, nil
}

// SnapshotManager handles saving and loading snapshots.
type SnapshotManager struct {
	dir    string
	logger *slog.Logger
}

// NewSnapshotManager creates a new snapshot manager.
// dir: directory to store snapshot files.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir, logger: slog.Default().With("module", "snapshot")}
}

type snapFile struct {
	path string
	seq  uint64
	ts   int64
}

// list returns snapshot files newest first.
func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No snapshots yet
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var f snapFile
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &f.seq, &f.ts); err != nil {
			continue // Not a snapshot file
		}
		f.path = filepath.Join(sm.dir, entry.Name())
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].seq != files[j].seq {
			return files[i].seq > files[j].seq
		}
		return files[i].ts > files[j].ts
	})
	return files, nil
}

// Save writes a snapshot to disk. The file appears under its final name
// only once fully written and synced.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	// Ensure directory exists
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(sm.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	path := filepath.Join(sm.dir, fmt.Sprintf("snapshot_%d_%d.json", snap.Seq, snap.TsUnix))
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	syncDir(sm.dir)

	sm.logger.Debug("Snapshot saved",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", path))

	return nil
}

// LoadLatest loads the most recent readable snapshot from disk.
// A corrupt newest file falls back to the one before it.
// Returns nil if no snapshot exists.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	files, err := sm.list()
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			sm.logger.Warn("Unreadable snapshot", slog.String("path", f.path), slog.Any("error", err))
			continue
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil || len(snap.State) == 0 {
			sm.logger.Warn("Corrupt snapshot, trying previous", slog.String("path", f.path), slog.Any("error", err))
			continue
		}

		sm.logger.Info("Snapshot loaded",
			slog.Uint64("seq", snap.Seq),
			slog.String("path", f.path))
		return &snap, nil
	}

	return nil, nil // No snapshots found
}

// Cleanup removes old snapshots, keeping only the latest N.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	if keepCount < 1 {
		keepCount = 1
	}

	// Remove old snapshots
	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			sm.logger.Warn("Failed to remove old snapshot", slog.String("path", files[i].path))
		}
	}

	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
