package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Recipient represents a row in the recipients table: one alert target
// (instructor or proctor) for a course.
type Recipient struct {
	ID        string
	CourseID  string
	Name      string
	Address   string // email address or E.164 phone number
	Channel   string // "email" or "whatsapp"
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateRecipientParams holds optional fields for partial recipient updates.
type UpdateRecipientParams struct {
	Name    *string
	Address *string
	Channel *string
	Active  *bool
}

// CreateRecipient inserts a new alert recipient for a course.
func (s *Store) CreateRecipient(ctx context.Context, courseID, name, address, channel string) (*Recipient, error) {
	var r Recipient
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO recipients (course_id, name, address, channel)
		VALUES ($1, $2, $3, $4)
		RETURNING id, course_id, name, address, channel, active, created_at, updated_at`,
		courseID, name, address, channel,
	).Scan(&r.ID, &r.CourseID, &r.Name, &r.Address, &r.Channel, &r.Active,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("CreateRecipient: %w", err)
	}
	return &r, nil
}

// ListRecipients returns all recipients for a course.
func (s *Store) ListRecipients(ctx context.Context, courseID string) ([]*Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, name, address, channel, active, created_at, updated_at
		FROM recipients WHERE course_id = $1 ORDER BY created_at`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("ListRecipients: %w", err)
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.CourseID, &r.Name, &r.Address, &r.Channel,
			&r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListRecipients: %w", err)
		}
		recipients = append(recipients, &r)
	}
	return recipients, rows.Err()
}

// UpdateRecipient applies a partial update to a recipient. Only non-nil fields are changed.
func (s *Store) UpdateRecipient(ctx context.Context, id string, params UpdateRecipientParams) (*Recipient, error) {
	var r Recipient
	err := s.db.QueryRowContext(ctx, `
		UPDATE recipients SET
			name       = COALESCE($2, name),
			address    = COALESCE($3, address),
			channel    = COALESCE($4, channel),
			active     = COALESCE($5, active),
			updated_at = now()
		WHERE id = $1
		RETURNING id, course_id, name, address, channel, active, created_at, updated_at`,
		id, params.Name, params.Address, params.Channel, params.Active,
	).Scan(&r.ID, &r.CourseID, &r.Name, &r.Address, &r.Channel, &r.Active,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateRecipient: %w", err)
	}
	return &r, nil
}

// DeleteRecipient deletes a recipient by ID.
func (s *Store) DeleteRecipient(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteRecipient: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
