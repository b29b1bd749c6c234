package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/recall/internal/config"
)

// Sensitivity levels.
const (
	Public  = "public"
	Private = "private"
	Secret  = "secret"
)

const (
	defaultCategory = "general"
	defaultScore    = 0.5
)

// Record is one persisted memory.
type Record struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	ContentHash   string     `json:"content_hash"`
	Category      string     `json:"category"`
	Importance    float64    `json:"importance"`
	Trust         float64    `json:"trust"`
	Sensitivity   string     `json:"sensitivity"`
	Tags          []string   `json:"tags"`
	Concepts      []string   `json:"concepts"`
	FilesRead     []string   `json:"files_read"`
	FilesModified []string   `json:"files_modified"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AccessedCount int        `json:"accessed_count"`
}

// Expired reports whether the record's TTL has elapsed at t.
func (r *Record) Expired(t time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(t)
}

// Preview is the metadata view returned by ListAll.
type Preview struct {
	ID            string     `json:"id"`
	Category      string     `json:"category"`
	Importance    float64    `json:"importance"`
	Trust         float64    `json:"trust"`
	Sensitivity   string     `json:"sensitivity"`
	Tags          []string   `json:"tags"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AccessedCount int        `json:"accessed_count"`
	Preview       string     `json:"preview"`
}

const previewLen = 120

// StoreParams describes a memory to store. Zero Category, Sensitivity,
// Importance and Trust take the defaults; Importance and Trust are clamped to
// [0,1]. TTLDays <= 0 means the record never expires.
type StoreParams struct {
	Content       string   `json:"content"`
	Category      string   `json:"category"`
	Importance    float64  `json:"importance"`
	Trust         float64  `json:"trust"`
	Sensitivity   string   `json:"sensitivity"`
	Tags          []string `json:"tags"`
	Concepts      []string `json:"concepts"`
	FilesRead     []string `json:"files_read"`
	FilesModified []string `json:"files_modified"`
	TTLDays       float64  `json:"ttl_days"`
}

// ContentHash returns the dedup key for content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ValidSensitivity reports whether s is a known sensitivity level.
func ValidSensitivity(s string) bool {
	switch s {
	case Public, Private, Secret:
		return true
	}
	return false
}

// Clamp01 limits v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (p *StoreParams) normalize() error {
	if p.Importance == 0 {
		p.Importance = defaultScore
	}
	if p.Trust == 0 {
		p.Trust = defaultScore
	}
	return p.validate()
}

// validate fills the categorical defaults and clamps the scores, keeping a
// zero importance or trust as given.
func (p *StoreParams) validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return errors.New("content is empty")
	}
	if p.Category == "" {
		p.Category = defaultCategory
	}
	if p.Sensitivity == "" {
		p.Sensitivity = Public
	}
	p.Sensitivity = strings.ToLower(p.Sensitivity)
	if !ValidSensitivity(p.Sensitivity) {
		return fmt.Errorf("%w: unknown sensitivity %q", config.ErrInvalidConfig, p.Sensitivity)
	}
	p.Importance = Clamp01(p.Importance)
	p.Trust = Clamp01(p.Trust)
	return nil
}

func (p *StoreParams) expiresAt(now time.Time) sql.NullInt64 {
	if p.TTLDays <= 0 || math.IsNaN(p.TTLDays) {
		return sql.NullInt64{}
	}
	ttl := time.Duration(p.TTLDays * float64(24*time.Hour))
	return sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
}

// Store persists a memory and returns its id. Storing content that is
// already present refreshes the existing record's updated_at and returns
// its id instead of creating a duplicate.
func (db *DB) Store(ctx context.Context, p StoreParams) (string, error) {
	if err := p.normalize(); err != nil {
		return "", err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("store", err)
	}
	id, err := db.storeTx(ctx, tx, p, db.now())
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("store", err)
	}
	return id, nil
}

// storeTx runs the dedup check and insert inside tx. Callers hold writeMu.
func (db *DB) storeTx(ctx context.Context, tx *sql.Tx, p StoreParams, now time.Time) (string, error) {
	hash := ContentHash(p.Content)
	nowMs := now.UnixMilli()

	var id string
	var expires sql.NullInt64
	err := tx.QueryRowContext(ctx,
		"SELECT id, expires_at FROM memories WHERE content_hash = ?", hash,
	).Scan(&id, &expires)
	switch {
	case err == nil:
		// An expired duplicate is revived with this call's TTL.
		if expires.Valid && expires.Int64 <= nowMs {
			_, err = tx.ExecContext(ctx,
				"UPDATE memories SET updated_at = ?, expires_at = ? WHERE id = ?",
				nowMs, p.expiresAt(now), id)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE memories SET updated_at = ? WHERE id = ?", nowMs, id)
		}
		if err != nil {
			return "", storageErr("refresh duplicate", err)
		}
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", storageErr("dedup lookup", err)
	}

	id = db.newID(now)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, content_hash, category, importance, trust, sensitivity,
			tags, concepts, files_read, files_modified, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Content, hash, p.Category, p.Importance, p.Trust, p.Sensitivity,
		encodeSet(p.Tags), encodeSet(p.Concepts), encodeSet(p.FilesRead), encodeSet(p.FilesModified),
		nowMs, nowMs, p.expiresAt(now),
	)
	if err != nil {
		return "", storageErr("insert", err)
	}
	return id, nil
}

const memoryCols = `m.id, m.content, m.content_hash, m.category, m.importance, m.trust, m.sensitivity,
	m.tags, m.concepts, m.files_read, m.files_modified, m.created_at, m.updated_at, m.expires_at, m.accessed_count`

const liveClause = "(m.expires_at IS NULL OR m.expires_at > ?)"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, extra ...any) (Record, error) {
	var r Record
	var tags, concepts, filesRead, filesModified string
	var created, updated int64
	var expires sql.NullInt64
	dest := []any{
		&r.ID, &r.Content, &r.ContentHash, &r.Category, &r.Importance, &r.Trust, &r.Sensitivity,
		&tags, &concepts, &filesRead, &filesModified, &created, &updated, &expires, &r.AccessedCount,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}
	r.Tags = decodeSet(tags)
	r.Concepts = decodeSet(concepts)
	r.FilesRead = decodeSet(filesRead)
	r.FilesModified = decodeSet(filesModified)
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		r.ExpiresAt = &t
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the live records for ids. Unknown or expired ids are omitted.
func (db *DB) Get(ctx context.Context, ids ...string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inList(ids)
	args = append(args, db.now().UnixMilli())
	rows, err := db.QueryContext(ctx,
		"SELECT "+memoryCols+" FROM memories m WHERE m.id IN ("+placeholders+") AND "+liveClause,
		args...)
	if err != nil {
		return nil, storageErr("get", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("get", err)
	}

	// Preserve caller order.
	byID := make(map[string]Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]Record, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out, nil
}

// Delete hard-deletes a record. It returns false when id is unknown.
func (db *DB) Delete(ctx context.Context, id string) (bool, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, storageErr("delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Count returns the number of live records.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories m WHERE "+liveClause, db.now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// ListAll pages live records, most recently updated first.
func (db *DB) ListAll(ctx context.Context, limit, offset int) ([]Preview, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+memoryCols+" FROM memories m WHERE "+liveClause+
			" ORDER BY m.updated_at DESC, m.seq DESC LIMIT ? OFFSET ?",
		db.now().UnixMilli(), limit, offset)
	if err != nil {
		return nil, storageErr("list", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("list", err)
	}
	out := make([]Preview, len(recs))
	for i, r := range recs {
		out[i] = Preview{
			ID:            r.ID,
			Category:      r.Category,
			Importance:    r.Importance,
			Trust:         r.Trust,
			Sensitivity:   r.Sensitivity,
			Tags:          r.Tags,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
			ExpiresAt:     r.ExpiresAt,
			AccessedCount: r.AccessedCount,
			Preview:       truncate(r.Content, previewLen),
		}
	}
	return out, nil
}

// PurgeExpired deletes every record whose TTL has elapsed.
func (db *DB) PurgeExpired(ctx context.Context) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx,
		"DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?",
		db.now().UnixMilli())
	if err != nil {
		return 0, storageErr("purge expired", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordAccess counts one consumed retrieval for each id.
func (db *DB) RecordAccess(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	placeholders, args := inList(ids)
	_, err := db.ExecContext(ctx,
		"UPDATE memories SET accessed_count = accessed_count + 1 WHERE id IN ("+placeholders+")",
		args...)
	return storageErr("record access", err)
}

// ListBatch returns up to limit records with id > afterID in id order,
// including expired ones. Batch jobs page the whole store with it.
func (db *DB) ListBatch(ctx context.Context, afterID string, limit int) ([]Record, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+memoryCols+" FROM memories m WHERE m.id > ? ORDER BY m.id LIMIT ?",
		afterID, limit)
	if err != nil {
		return nil, storageErr("list batch", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("list batch", err)
	}
	return recs, nil
}

// SetImportance writes a new (clamped) importance and refreshes updated_at.
func (db *DB) SetImportance(ctx context.Context, id string, importance float64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx,
		"UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?",
		Clamp01(importance), db.now().UnixMilli(), id)
	if err != nil {
		return storageErr("set importance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompressionCandidates returns live records created before olderThan,
// oldest first, skipping the excluded categories.
func (db *DB) CompressionCandidates(ctx context.Context, olderThan time.Time, exclude []string, limit int) ([]Record, error) {
	query := "SELECT " + memoryCols + " FROM memories m WHERE m.created_at < ? AND " + liveClause
	args := []any{olderThan.UnixMilli(), db.now().UnixMilli()}
	if len(exclude) > 0 {
		placeholders, ex := inList(exclude)
		query += " AND m.category NOT IN (" + placeholders + ")"
		args = append(args, ex...)
	}
	query += " ORDER BY m.created_at, m.seq LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("compression candidates", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, storageErr("compression candidates", err)
	}
	return recs, nil
}

// ReplaceWithSummary stores summary and hard-deletes originals in one
// transaction. Facts sourced from the originals move to the summary. The
// summary's importance and trust are stored as given, zero included.
func (db *DB) ReplaceWithSummary(ctx context.Context, summary StoreParams, originals []string) (string, error) {
	if err := summary.validate(); err != nil {
		return "", err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("replace", err)
	}
	defer tx.Rollback()

	id, err := db.storeTx(ctx, tx, summary, db.now())
	if err != nil {
		return "", err
	}

	var doomed []string
	for _, o := range originals {
		if o != id {
			doomed = append(doomed, o)
		}
	}
	if len(doomed) > 0 {
		placeholders, args := inList(doomed)
		if _, err := tx.ExecContext(ctx,
			"UPDATE facts SET source_entry_id = ? WHERE source_entry_id IN ("+placeholders+")",
			append([]any{id}, args...)...); err != nil {
			return "", storageErr("repoint facts", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memories WHERE id IN ("+placeholders+")", args...); err != nil {
			return "", storageErr("delete originals", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("replace", err)
	}
	return id, nil
}

func inList(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}

// NormalizeSet trims, drops empties, dedups and sorts.
func NormalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func encodeSet(values []string) string {
	data, _ := json.Marshal(NormalizeSet(values))
	return string(data)
}

func decodeSet(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
