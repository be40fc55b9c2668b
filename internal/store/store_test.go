package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "electric.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreOpenAndMigrate(t *testing.T) {
	store := openTestStore(t)

	version, err := store.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{"runs", "operations", "hash_cache", "schema_version"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	if err := store.CheckIntegrity(); err != nil {
		t.Errorf("integrity check failed: %v", err)
	}
}

func TestStoreReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "electric.db")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	var rows int
	second.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows)
	if rows != currentSchemaVersion {
		t.Errorf("expected %d schema_version rows, got %d", currentSchemaVersion, rows)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)

	run := &Run{ID: "run-1", Command: "update", DryRun: true}
	if err := store.BeginRun(run); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil || got == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != StatusRunning || !got.DryRun || !got.FinishedAt.IsZero() {
		t.Errorf("unexpected running run: %+v", got)
	}

	run.Status = StatusFailed
	run.Transfers = 3
	run.Failures = 1
	run.BytesWritten = 4096
	run.Error = "1 operation failed"
	if err := store.FinishRun(run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, _ = store.GetRun("run-1")
	if got.Status != StatusFailed || got.Transfers != 3 || got.Failures != 1 || got.BytesWritten != 4096 {
		t.Errorf("unexpected finished run: %+v", got)
	}
	if got.Error != "1 operation failed" || got.FinishedAt.IsZero() {
		t.Errorf("finish fields not stored: %+v", got)
	}

	if err := store.FinishRun(&Run{ID: "missing", Status: StatusOK}); err == nil {
		t.Error("finishing an unknown run should fail")
	}

	if missing, err := store.GetRun("nope"); err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v", missing, err)
	}
}

func TestRecentRuns(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 9, 4, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Command: "sync", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.BeginRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("expected [c b], got %d runs", len(runs))
		for _, r := range runs {
			t.Logf("  %s %v", r.ID, r.StartedAt)
		}
	}
}

func TestOperationJournal(t *testing.T) {
	store := openTestStore(t)
	if err := store.BeginRun(&Run{ID: "run-1", Command: "update"}); err != nil {
		t.Fatal(err)
	}

	ops := []*Operation{
		{RunID: "run-1", Backend: "local", Kind: "rename", Song: 1, Src: "core/a.mp3", Dest: "core/b.mp3"},
		{RunID: "run-1", Backend: "phone", Kind: "transfer", Song: 2, Src: "core/c.mp3", Dest: "core/c.mp3"},
	}
	for _, op := range ops {
		if _, err := store.BeginOperation(op); err != nil {
			t.Fatalf("BeginOperation failed: %v", err)
		}
	}

	pending, _ := store.CountOperationsByStatus("run-1")
	if pending[StatusPending] != 2 {
		t.Errorf("expected 2 pending operations, got %v", pending)
	}

	if err := store.FinishOperation(ops[0].ID, StatusDone, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishOperation(ops[1].ID, StatusFailed, 0, errors.New("device offline")); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetOperations("run-1")
	if err != nil {
		t.Fatalf("GetOperations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(got))
	}
	if got[0].Kind != "rename" || got[0].Status != StatusDone || got[0].FinishedAt.IsZero() {
		t.Errorf("unexpected first operation: %+v", got[0])
	}
	if got[1].Status != StatusFailed || got[1].Error != "device offline" {
		t.Errorf("unexpected second operation: %+v", got[1])
	}
}

func TestHashCache(t *testing.T) {
	store := openTestStore(t)

	if _, ok, err := store.CachedHash("/m/a.mp3", "k1"); err != nil || ok {
		t.Fatalf("empty cache returned ok=%v err=%v", ok, err)
	}

	if err := store.PutHash("/m/a.mp3", "k1", "hash-1"); err != nil {
		t.Fatalf("PutHash failed: %v", err)
	}
	if hash, ok, _ := store.CachedHash("/m/a.mp3", "k1"); !ok || hash != "hash-1" {
		t.Errorf("CachedHash = %q, %v", hash, ok)
	}
	if _, ok, _ := store.CachedHash("/m/a.mp3", "k2"); ok {
		t.Error("changed file key must miss the cache")
	}

	if err := store.PutHash("/m/a.mp3", "k2", "hash-2"); err != nil {
		t.Fatal(err)
	}
	if hash, ok, _ := store.CachedHash("/m/a.mp3", "k2"); !ok || hash != "hash-2" {
		t.Errorf("updated CachedHash = %q, %v", hash, ok)
	}

	store.PutHash("/m/b.mp3", "k3", "hash-3")
	removed, err := store.ForgetHashesExcept(map[string]bool{"/m/b.mp3": true})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row removed, got %d", removed)
	}
	if _, ok, _ := store.CachedHash("/m/a.mp3", "k2"); ok {
		t.Error("forgotten path still cached")
	}
}

func TestSQLiteVersion(t *testing.T) {
	if SQLiteVersion() == "" {
		t.Error("SQLiteVersion returned empty string")
	}
}
