package store

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const (
	defaultCandidateLimit = 50
	defaultKeywordLimit   = 10
)

// DB wraps a sql.DB connection to the recall SQLite database.
//
// All mutations are serialized through writeMu; reads go straight to the
// connection pool.
type DB struct {
	*sql.DB
	Path string

	writeMu sync.Mutex
	entropy io.Reader

	now            func() time.Time
	log            *slog.Logger
	fullText       bool
	ftsReady       bool
	candidateLimit int
	keywordLimit   int
}

// Option configures a DB at open time.
type Option func(*DB)

// WithClock overrides the time source. Every lifecycle component reads time
// through DB.Now, so tests can move the whole engine through simulated time.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// WithFullText toggles the FTS5 candidate path. Disabled means every search
// uses the substring scan.
func WithFullText(enabled bool) Option {
	return func(db *DB) { db.fullText = enabled }
}

// WithCandidateLimit sets the default number of candidates gathered per search.
func WithCandidateLimit(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.candidateLimit = n
		}
	}
}

// WithKeywordLimit sets how many query keywords a search uses.
func WithKeywordLimit(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.keywordLimit = n
		}
	}
}

// DefaultDBPath returns the default database path: ~/.recall/recall.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".recall", "recall.db"), nil
}

func newDB(sqlDB *sql.DB, path string, opts []Option) *DB {
	db := &DB{
		DB:             sqlDB,
		Path:           path,
		now:            time.Now,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		fullText:       true,
		candidateLimit: defaultCandidateLimit,
		keywordLimit:   defaultKeywordLimit,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.entropy = ulid.Monotonic(rand.New(rand.NewSource(db.now().UnixNano())), 0)
	return db
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// foreign_keys and busy_timeout are per-connection, so they ride on the
	// DSN and apply to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := newDB(sqlDB, path, opts)
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory(opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := newDB(sqlDB, ":memory:", opts)
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA mmap_size=268435456", // 256MB
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Now returns the current time according to the store's clock.
func (db *DB) Now() time.Time {
	return db.now()
}

// FullTextReady reports whether searches use the FTS5 index.
func (db *DB) FullTextReady() bool {
	return db.fullText && db.ftsReady
}

func (db *DB) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), db.entropy).String()
}
