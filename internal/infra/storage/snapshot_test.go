package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type testState struct {
	Bankroll string `json:"bankroll"`
}

func saveState(t *testing.T, sm *SnapshotManager, seq uint64, ts int64, bankroll string) {
	t.Helper()
	snap, err := NewSnapshot(seq, testState{Bankroll: bankroll})
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	snap.TsUnix = ts
	if err := sm.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func decodeState(t *testing.T, snap *Snapshot) testState {
	t.Helper()
	var st testState
	if err := json.Unmarshal(snap.State, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestSnapshotManager_LoadLatest(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir())

	snap, err := sm.LoadLatest()
	if err != nil || snap != nil {
		t.Fatalf("Expected nil, nil on empty dir, got %v, %v", snap, err)
	}

	saveState(t, sm, 1, 100, "100")
	saveState(t, sm, 3, 200, "90")
	saveState(t, sm, 3, 300, "95") // same seq, later write
	saveState(t, sm, 2, 400, "80")

	snap, err = sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if snap.Seq != 3 {
		t.Errorf("Expected seq 3, got %d", snap.Seq)
	}
	if got := decodeState(t, snap).Bankroll; got != "95" {
		t.Errorf("Expected newest write for seq 3, got bankroll %s", got)
	}
}

func TestSnapshotManager_CorruptFallsBack(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)
	saveState(t, sm, 1, 100, "100")

	// Torn write of a newer snapshot.
	if err := os.WriteFile(filepath.Join(dir, "snapshot_2_200.json"), []byte(`{"seq":2,"st`), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if snap == nil || snap.Seq != 1 {
		t.Fatalf("Expected fallback to seq 1, got %+v", snap)
	}
}

func TestSnapshotManager_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)
	saveState(t, sm, 1, 100, "100")

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "snapshot_1_100.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only snapshot_1_100.json, got %v", names)
	}
}

func TestSnapshotManager_Cleanup(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)
	for i := uint64(1); i <= 5; i++ {
		saveState(t, sm, i, int64(i*100), "100")
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := sm.Cleanup(2); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	files, _ := sm.list()
	if len(files) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(files))
	}
	if files[0].seq != 5 || files[1].seq != 4 {
		t.Errorf("Expected seqs 5,4 kept, got %d,%d", files[0].seq, files[1].seq)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("Expected non-snapshot file untouched")
	}
}
