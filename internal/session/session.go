// Package session implements the authentication lifecycle of the screen.
//
// Two event channels feed one reducer: pushes from the identity provider
// (AuthChanged) and the outcomes of locally initiated actions (sign-in,
// sign-up, sign-out, account-creation toggles). Reduce is pure; Machine owns
// the provider subscription and serializes every mutation.
package session

import (
	"fmt"
	"strings"

	"tasksync/internal/service"
)

// Kind is the variant tag of a Session.
type Kind int

const (
	// Initializing precedes the first provider callback. Never re-entered.
	Initializing Kind = iota
	Unauthenticated
	CreatingAccount
	Authenticated
)

func (k Kind) String() string {
	switch k {
	case Initializing:
		return "initializing"
	case Unauthenticated:
		return "unauthenticated"
	case CreatingAccount:
		return "creating_account"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := Initializing; k <= Authenticated; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown session kind: %q", s)
}

// Session is the tagged union of authentication states.
// Profile is set only when Kind is Authenticated.
type Session struct {
	Kind    Kind
	Profile *service.Profile

	// ActionPending is true while a sign-in or sign-up call is in flight.
	ActionPending bool
}

// Equal reports whether two sessions are the same state.
func (s Session) Equal(o Session) bool {
	if s.Kind != o.Kind || s.ActionPending != o.ActionPending {
		return false
	}
	if (s.Profile == nil) != (o.Profile == nil) {
		return false
	}
	return s.Profile == nil || *s.Profile == *o.Profile
}

func (s Session) String() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	if s.Profile != nil {
		fmt.Fprintf(&b, "(%s)", s.Profile.Name())
	}
	if s.ActionPending {
		b.WriteString(" pending")
	}
	return b.String()
}

func authenticated(p service.Profile, pending bool) Session {
	return Session{Kind: Authenticated, Profile: &p, ActionPending: pending}
}

// Draft is the in-progress credential form.
type Draft struct {
	Email    string
	Password string
}

// Validate returns a *ValidationError naming the first missing field.
func (d Draft) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Email) == "" {
		missing = append(missing, "email")
	}
	if d.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
