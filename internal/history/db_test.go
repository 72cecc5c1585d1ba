package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpenStateDir_CreatesParentDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", ".taskmaster")

	db, err := OpenStateDir(dir)
	if err != nil {
		t.Fatalf("OpenStateDir failed: %v", err)
	}
	defer db.Close()

	if db.Path() != filepath.Join(dir, FileName) {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}

	for _, table := range []string{"runs", "attempts", "events"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestPurge(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	old := &Run{ID: "old", TaskFile: "tasks.yaml", Provider: "claude", StartedAt: now.Add(-48 * time.Hour)}
	recent := &Run{ID: "recent", TaskFile: "tasks.yaml", Provider: "claude", StartedAt: now.Add(-time.Hour)}
	for _, r := range []*Run{old, recent} {
		if err := db.StartRun(r); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
	}
	if err := db.RecordAttempt(&Attempt{RunID: "old", TaskID: "a", Attempt: 1, Outcome: "failed", StartedAt: old.StartedAt}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	n, err := db.Purge(24*time.Hour, now)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge deleted %d runs, want 1", n)
	}

	attempts, err := db.ListAttempts(Filter{RunID: "old"})
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("attempts of purged run should cascade, got %d", len(attempts))
	}
}
