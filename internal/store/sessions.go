package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Session is the journal row for one host session.
type Session struct {
	ID           string     `json:"id"`
	Project      string     `json:"project"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ToolCalls    int        `json:"tool_calls"`
	Observations int        `json:"observations"`
	SummaryID    string     `json:"summary_id,omitempty"`
}

const sessionCols = "id, project, started_at, ended_at, tool_calls, observations, summary_id"

// StartSession opens or resumes a session row. Resuming clears ended_at and
// keeps the original start time.
func (db *DB) StartSession(ctx context.Context, id, project string, at time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (id, project, started_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project  = CASE WHEN excluded.project != '' THEN excluded.project ELSE sessions.project END,
			ended_at = NULL
	`, id, project, at.UnixMilli())
	if err != nil {
		return storageErr("start session", err)
	}
	return nil
}

// EndSession closes a session row with its final counters, creating the row
// when the start was never seen.
func (db *DB) EndSession(ctx context.Context, s Session) error {
	ended := db.now()
	if s.EndedAt != nil {
		ended = *s.EndedAt
	}
	started := s.StartedAt
	if started.IsZero() {
		started = ended
	}
	summary := sql.NullString{String: s.SummaryID, Valid: s.SummaryID != ""}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at     = excluded.ended_at,
			tool_calls   = excluded.tool_calls,
			observations = excluded.observations,
			summary_id   = COALESCE(excluded.summary_id, sessions.summary_id)
	`, s.ID, s.Project, started.UnixMilli(), ended.UnixMilli(), s.ToolCalls, s.Observations, summary)
	if err != nil {
		return storageErr("end session", err)
	}
	return nil
}

// GetSession returns a session row by id.
func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, "SELECT "+sessionCols+" FROM sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, storageErr("get session", err)
	}
	return s, nil
}

// RecentSessions returns the most recently started sessions.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+sessionCols+" FROM sessions ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, storageErr("recent sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storageErr("recent sessions", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(s scanner) (Session, error) {
	var (
		out     Session
		started int64
		ended   sql.NullInt64
		summary sql.NullString
	)
	if err := s.Scan(&out.ID, &out.Project, &started, &ended, &out.ToolCalls, &out.Observations, &summary); err != nil {
		return Session{}, err
	}
	out.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		out.EndedAt = &t
	}
	out.SummaryID = summary.String
	return out, nil
}
