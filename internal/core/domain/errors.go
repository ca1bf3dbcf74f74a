package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTemporary     = errors.New("temporary failure")
	ErrUpstream      = errors.New("upstream failure")
	ErrTrialNotFound = errors.New("trial not found")
	ErrNotConnected  = errors.New("chat session not connected")
	ErrStaleSearch   = errors.New("search superseded")
	ErrNotConfigured = errors.New("not configured")
)

const GenericSearchFailure = "Failed to analyze clinical data. Please try again."

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// PublicError carries a message meant for the end user alongside the
// diagnostic chain.
type PublicError struct {
	Message string
	Err     error
}

func (e *PublicError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *PublicError) Unwrap() error { return e.Err }

func (e *PublicError) PublicMessage() string { return e.Message }

func NewPublicError(message string, err error) error {
	return &PublicError{Message: message, Err: err}
}

// PublicMessage returns the user-facing message of err, falling back to the
// error text and finally to fallback when both are blank.
func PublicMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var public interface{ PublicMessage() string }
	if errors.As(err, &public) {
		if msg := strings.TrimSpace(public.PublicMessage()); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
