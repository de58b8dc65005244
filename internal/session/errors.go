package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned for an intent the current variant
	// does not accept.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrClosed is returned by a Machine after Close.
	ErrClosed = errors.New("session closed")

	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("session already started")

	// ErrUnsupported is returned for an intent the provider cannot serve.
	ErrUnsupported = errors.New("not supported by provider")

	// errActionPending is the reducer's answer to a submit while another call
	// is in flight. Machine turns it into a silent no-op.
	errActionPending = errors.New("action pending")
)

// ValidationError reports missing required input. Recovered locally.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("all fields required: missing %s", strings.Join(e.Fields, ", "))
}

// ProviderAuthError wraps a failure reported by the identity provider.
type ProviderAuthError struct {
	Op  string
	Err error
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
