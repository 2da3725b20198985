package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Course represents a row in the courses table. Each course owns one API
// key used by its exam client.
type Course struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CourseWithConfig is a Course joined with its proctoring config overrides
// (for auth lookups). ProctorConfig is raw JSONB; absent keys mean server
// defaults.
type CourseWithConfig struct {
	Course
	ProctorConfig json.RawMessage
}

// UpdateCourseParams holds optional fields for partial course updates.
type UpdateCourseParams struct {
	Name          *string
	ProctorConfig *json.RawMessage // nil = don't change
}

// GenerateAPIKey creates a new esk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "esk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "esk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateCourse inserts a new course with a fresh API key.
// Returns the course and plaintext API key (shown once).
func (s *Store) CreateCourse(ctx context.Context, name string, proctorConfig json.RawMessage) (*Course, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateCourse: %w", err)
	}
	if proctorConfig == nil {
		proctorConfig = json.RawMessage(`{}`)
	}

	var c Course
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO courses (name, api_key_hash, api_key_prefix, proctor_config)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, api_key_hash, api_key_prefix, created_at, updated_at`,
		name, keyHash, keyPrefix, proctorConfig,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateCourse: %w", err)
	}

	return &c, fullKey, nil
}

// ListCourses returns all courses ordered by created_at DESC.
func (s *Store) ListCourses(ctx context.Context) ([]*Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, created_at, updated_at
		FROM courses ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListCourses: %w", err)
	}
	defer rows.Close()

	var courses []*Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListCourses: %w", err)
		}
		courses = append(courses, &c)
	}
	return courses, rows.Err()
}

// GetCourse returns a course with its proctoring config, or nil if not found.
func (s *Store) GetCourse(ctx context.Context, id string) (*CourseWithConfig, error) {
	var cw CourseWithConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix,
		       COALESCE(proctor_config, '{}'), created_at, updated_at
		FROM courses WHERE id = $1`, id,
	).Scan(&cw.ID, &cw.Name, &cw.APIKeyHash, &cw.APIKeyPrefix,
		&cw.ProctorConfig, &cw.CreatedAt, &cw.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetCourse: %w", err)
	}
	return &cw, nil
}

// UpdateCourse applies a partial update to a course. Only non-nil fields are changed.
func (s *Store) UpdateCourse(ctx context.Context, id string, params UpdateCourseParams) (*CourseWithConfig, error) {
	var cw CourseWithConfig
	err := s.db.QueryRowContext(ctx, `
		UPDATE courses SET
			name           = COALESCE($2, name),
			proctor_config = COALESCE($3, proctor_config),
			updated_at     = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix,
		          COALESCE(proctor_config, '{}'), created_at, updated_at`,
		id, params.Name, nullableJSON(params.ProctorConfig),
	).Scan(&cw.ID, &cw.Name, &cw.APIKeyHash, &cw.APIKeyPrefix,
		&cw.ProctorConfig, &cw.CreatedAt, &cw.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateCourse: %w", err)
	}
	return &cw, nil
}

// DeleteCourse deletes a course by ID. Recipients cascade.
func (s *Store) DeleteCourse(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteCourse: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey generates a new API key for a course, or returns nil if the
// course does not exist. Returns the updated course and the plaintext key
// (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Course, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var c Course
	err = s.db.QueryRowContext(ctx, `
		UPDATE courses SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, created_at, updated_at`,
		id, keyHash, keyPrefix,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &c, fullKey, nil
}

// LookupByPrefix finds a course by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*CourseWithConfig, error) {
	var cw CourseWithConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix,
		       COALESCE(proctor_config, '{}'), created_at, updated_at
		FROM courses WHERE api_key_prefix = $1`, prefix,
	).Scan(&cw.ID, &cw.Name, &cw.APIKeyHash, &cw.APIKeyPrefix,
		&cw.ProctorConfig, &cw.CreatedAt, &cw.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &cw, nil
}

// nullableJSON returns nil (SQL NULL) if the pointer is nil, otherwise the raw bytes.
func nullableJSON(v *json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
