package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/invigilo-ai/sentinel/internal/evaluate"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth store unavailable")
)

// CourseContext holds the authenticated course's configuration.
type CourseContext struct {
	CourseID  string
	Name      string
	Overrides *evaluate.Overrides // nil = server defaults
}

// Authenticator validates an API key and returns the owning course's context.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*CourseContext, error)
}

// StaticAuthenticator is the no-database implementation for local
// development. It validates only that the key has the esk_ format; every
// valid key maps to a single development course.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*CourseContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(apiKey, "esk_") {
		return nil, ErrInvalidAPIKey
	}
	return &CourseContext{
		CourseID: "course_dev",
		Name:     "development",
	}, nil
}
