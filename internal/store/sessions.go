package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRow is the durable mirror of an in-memory exam session. The
// tracker stays authoritative; these rows exist for review after the fact.
type SessionRow struct {
	ID             string
	UserID         string
	CourseID       string
	StartedAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	TabSwitchCount int
	ViolationCount int
	Locked         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InsertSession inserts the mirror row for a newly started session.
func (s *Store) InsertSession(ctx context.Context, row SessionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, course_id, started_at,
		                      tab_switch_count, violation_count, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.UserID, row.CourseID, row.StartedAt,
		row.TabSwitchCount, row.ViolationCount, row.Locked,
	)
	if err != nil {
		return fmt.Errorf("InsertSession: %w", err)
	}
	return nil
}

// UpdateSessionCounters refreshes the mutable counters of a session row.
func (s *Store) UpdateSessionCounters(ctx context.Context, row SessionRow) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			tab_switch_count = $2,
			violation_count  = $3,
			locked           = $4,
			updated_at       = now()
		WHERE id = $1`,
		row.ID, row.TabSwitchCount, row.ViolationCount, row.Locked,
	)
	if err != nil {
		return fmt.Errorf("UpdateSessionCounters: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkSessionEnded records the session's termination. Idempotent at the
// database level: an already-ended row keeps its original ended_at.
func (s *Store) MarkSessionEnded(ctx context.Context, id, reason string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			ended_at   = COALESCE(ended_at, $3),
			end_reason = COALESCE(NULLIF(end_reason, ''), $2),
			updated_at = now()
		WHERE id = $1`,
		id, reason, at,
	)
	if err != nil {
		return fmt.Errorf("MarkSessionEnded: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetSession returns a session mirror row by ID, or nil if not found.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	var row SessionRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, course_id, started_at, ended_at,
		       COALESCE(end_reason, ''), tab_switch_count, violation_count,
		       locked, created_at, updated_at
		FROM sessions WHERE id = $1`, id,
	).Scan(&row.ID, &row.UserID, &row.CourseID, &row.StartedAt, &row.EndedAt,
		&row.EndReason, &row.TabSwitchCount, &row.ViolationCount,
		&row.Locked, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	return &row, nil
}

// ListSessions returns mirror rows for a course, newest first.
func (s *Store) ListSessions(ctx context.Context, courseID string, limit int) ([]*SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, course_id, started_at, ended_at,
		       COALESCE(end_reason, ''), tab_switch_count, violation_count,
		       locked, created_at, updated_at
		FROM sessions WHERE course_id = $1
		ORDER BY started_at DESC LIMIT $2`,
		courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.CourseID, &row.StartedAt,
			&row.EndedAt, &row.EndReason, &row.TabSwitchCount, &row.ViolationCount,
			&row.Locked, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListSessions: %w", err)
		}
		sessions = append(sessions, &row)
	}
	return sessions, rows.Err()
}
