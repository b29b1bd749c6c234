package store

import (
	"context"
	"database/sql"
	"time"
)

// Fact is a subject/predicate/object triple, optionally tied to the memory
// it was extracted from.
type Fact struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object_value"`
	SourceID  string    `json:"source_entry_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddFacts inserts facts in one transaction.
func (db *DB) AddFacts(ctx context.Context, facts ...Fact) error {
	if len(facts) == 0 {
		return nil
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("add facts", err)
	}
	defer tx.Rollback()

	now := db.now().UnixMilli()
	for _, f := range facts {
		var source sql.NullString
		if f.SourceID != "" {
			source = sql.NullString{String: f.SourceID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (subject, predicate, object_value, source_entry_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			f.Subject, f.Predicate, f.Object, source, now,
		); err != nil {
			return storageErr("add facts", err)
		}
	}
	return storageErr("add facts", tx.Commit())
}

// FactsBySource returns the facts extracted from one memory.
func (db *DB) FactsBySource(ctx context.Context, sourceID string) ([]Fact, error) {
	return db.queryFacts(ctx, "WHERE source_entry_id = ? ORDER BY id", sourceID)
}

// FactsBySubject returns up to limit facts about subject, oldest first.
func (db *DB) FactsBySubject(ctx context.Context, subject string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryFacts(ctx, "WHERE subject = ? ORDER BY id LIMIT ?", subject, limit)
}

func (db *DB) queryFacts(ctx context.Context, where string, args ...any) ([]Fact, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, subject, predicate, object_value, source_entry_id, created_at FROM facts "+where,
		args...)
	if err != nil {
		return nil, storageErr("query facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var source sql.NullString
		var created int64
		if err := rows.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &source, &created); err != nil {
			return nil, storageErr("query facts", err)
		}
		f.SourceID = source.String
		f.CreatedAt = time.UnixMilli(created)
		out = append(out, f)
	}
	return out, storageErr("query facts", rows.Err())
}
