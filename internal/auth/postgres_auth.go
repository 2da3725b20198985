package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CourseStore abstracts DB queries for testability.
type CourseStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*courseRow, error)
}

type courseRow struct {
	CourseID      string
	Name          string
	APIKeyHash    string
	ProctorConfig sql.NullString // JSONB (NULL if never configured)
}

// sqlCourseStore is the real implementation using *sql.DB.
type sqlCourseStore struct {
	db *sql.DB
}

func (s *sqlCourseStore) LookupByPrefix(ctx context.Context, prefix string) (*courseRow, error) {
	row := &courseRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key_hash, proctor_config
		 FROM courses
		 WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&row.CourseID, &row.Name, &row.APIKeyHash, &row.ProctorConfig)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidAPIKey // No course with this prefix — reject, don't fail open
		}
		return nil, fmt.Errorf("sqlCourseStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates API keys against the courses table.
// Uses AuthCache with stale-while-revalidate to avoid DB + bcrypt on the hot
// path: a frame arrives every couple of seconds per session, so a cold
// lookup per frame would dominate cycle latency.
type PostgresAuthenticator struct {
	store  CourseStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  &sqlCourseStore{db: cfg.DB},
		cache:  NewAuthCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresAuthenticatorWithStore creates an authenticator with an injected store (for testing).
func newPostgresAuthenticatorWithStore(store CourseStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Authenticate validates the API key against the database.
//
// Flow:
//  1. Cache lookup (stale-while-revalidate):
//     - Fresh hit: return immediately (sub-microsecond)
//     - Stale hit: return stale course, spawn background refresh
//     - Miss: do full DB + bcrypt lookup synchronously
//  2. Auth failures always return an error — no session mutation happens
//     without a valid key.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*CourseContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	// 1. Cache lookup
	result := a.cache.Get(apiKey)

	if result.Hit {
		// Stale hit — kick off background refresh, return stale value immediately
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Course, nil
	}

	// 2. Cache miss — do full lookup synchronously
	course, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Set(apiKey, course)
	return course, nil
}

// backgroundRefresh performs the DB + bcrypt lookup in a background goroutine.
// Errors are logged but don't affect the caller (they already got the stale value).
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	course, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed",
			zap.Error(err),
		)
		// Don't update cache — stale entry remains. Next stale read will retry.
		// Reset the refreshing flag so the next stale read can try again.
		a.cache.Delete(apiKey)
		return
	}

	a.cache.Set(apiKey, course)
}

// lookupAndVerify does the full DB prefix lookup + bcrypt verification + config parsing.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*CourseContext, error) {
	// api_key_prefix is the first 8 chars (e.g. "esk_abcd")
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}
	prefix := apiKey[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	// bcrypt verify
	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	// Parse per-course overrides from proctor_config JSONB. Absent or
	// unparseable config means server defaults, never a rejected frame.
	var overrides *evaluate.Overrides
	if row.ProctorConfig.Valid && row.ProctorConfig.String != "" && row.ProctorConfig.String != "{}" {
		parsed, err := parseProctorConfig(row.ProctorConfig.String)
		if err != nil {
			a.logger.Warn("failed to parse proctor_config, using defaults",
				zap.String("course_id", row.CourseID),
				zap.Error(err),
			)
		} else {
			overrides = parsed
		}
	}

	return &CourseContext{
		CourseID:  row.CourseID,
		Name:      row.Name,
		Overrides: overrides,
	}, nil
}

// handleLookupError returns the appropriate error. Invalid keys are always
// rejected; a DB outage surfaces as unavailable so callers can distinguish.
func (a *PostgresAuthenticator) handleLookupError(lookupErr error) (*CourseContext, error) {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}

	a.logger.Warn("auth DB unreachable",
		zap.Error(lookupErr),
	)
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}

// parseProctorConfig parses the proctor_config JSON into threshold overrides.
func parseProctorConfig(raw string) (*evaluate.Overrides, error) {
	var o evaluate.Overrides
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("parseProctorConfig: %w", err)
	}
	return &o, nil
}
