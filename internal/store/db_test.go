package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := OpenMemory(opts...)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 4 {
		t.Errorf("SchemaVersion = %d, want 4", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "memories", "facts", "memories_fts", "sessions"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
	if !db.FullTextReady() {
		t.Error("FullTextReady = false, want true")
	}
}

func TestFullTextDisabled(t *testing.T) {
	db := testDB(t, WithFullText(false))
	if db.FullTextReady() {
		t.Error("FullTextReady = true with full text disabled")
	}
}

func TestMemoriesConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO memories (id, content, content_hash, created_at, updated_at)
		VALUES ('a', 'x', 'h1', 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO memories (id, content, content_hash, created_at, updated_at)
		VALUES ('b', 'x', 'h1', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for duplicate content_hash, got nil")
	}

	_, err = db.Exec(`
		INSERT INTO memories (id, content, content_hash, importance, created_at, updated_at)
		VALUES ('c', 'y', 'h2', 1.5, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for importance > 1, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&count)
	if count != len(migrations) {
		t.Errorf("schema_versions rows = %d, want %d", count, len(migrations))
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "recall.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestClock(t *testing.T) {
	clock := newFakeClock()
	db := testDB(t, WithClock(clock.Now))
	if !db.Now().Equal(clock.Now()) {
		t.Errorf("Now = %v, want %v", db.Now(), clock.Now())
	}
	clock.Advance(time.Hour)
	if !db.Now().Equal(clock.Now()) {
		t.Errorf("Now did not follow clock")
	}
}
