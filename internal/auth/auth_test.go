package auth

import (
	"context"
	"errors"
	"testing"
)

func TestStaticAuth_ValidKey(t *testing.T) {
	a := NewStaticAuthenticator()

	course, err := a.Authenticate(context.Background(), "esk_local_dev_key")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if course.CourseID != "course_dev" {
		t.Errorf("expected course_dev, got %s", course.CourseID)
	}
	if course.Overrides != nil {
		t.Error("static auth should return server defaults")
	}
}

func TestStaticAuth_MissingKey(t *testing.T) {
	a := NewStaticAuthenticator()

	_, err := a.Authenticate(context.Background(), "")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestStaticAuth_WrongPrefix(t *testing.T) {
	a := NewStaticAuthenticator()

	_, err := a.Authenticate(context.Background(), "sk_not_an_exam_key")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

var _ Authenticator = (*StaticAuthenticator)(nil)
