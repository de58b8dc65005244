package session

import (
	"errors"

	"tasksync/internal/service"
)

// Event is an input to Reduce.
type Event interface {
	Type() string
}

// AuthChanged is a push from the identity provider. Profile is nil when the
// provider reports no session.
type AuthChanged struct {
	Profile *service.Profile
}

// SignInStarted marks a sign-in call as submitted.
type SignInStarted struct{}

// SignInSettled carries the outcome of a sign-in call.
type SignInSettled struct {
	Err error
}

// SignUpStarted marks a sign-up call as submitted.
type SignUpStarted struct{}

// SignUpSettled carries the outcome of a sign-up call.
type SignUpSettled struct {
	Profile service.Profile
	Err     error
}

// SignOutSettled carries the outcome of a sign-out call.
type SignOutSettled struct {
	Err error
}

// CreateAccountBegan switches the form to account creation.
type CreateAccountBegan struct{}

// CreateAccountCancelled switches the form back to sign-in.
type CreateAccountCancelled struct{}

func (AuthChanged) Type() string            { return "auth_changed" }
func (SignInStarted) Type() string          { return "sign_in_started" }
func (SignInSettled) Type() string          { return "sign_in_settled" }
func (SignUpStarted) Type() string          { return "sign_up_started" }
func (SignUpSettled) Type() string          { return "sign_up_settled" }
func (SignOutSettled) Type() string         { return "sign_out_settled" }
func (CreateAccountBegan) Type() string     { return "create_account_began" }
func (CreateAccountCancelled) Type() string { return "create_account_cancelled" }

// Reduce applies ev to s. On error the returned session is s unchanged.
func Reduce(s Session, ev Event) (Session, error) {
	switch e := ev.(type) {
	case AuthChanged:
		return reduceAuthChanged(s, e), nil
	case SignInStarted:
		return reduceStarted(s, Unauthenticated)
	case SignUpStarted:
		return reduceStarted(s, CreatingAccount)
	case SignInSettled:
		s.ActionPending = false
		return s, nil
	case SignUpSettled:
		return reduceSignUpSettled(s, e), nil
	case SignOutSettled:
		return reduceSignOutSettled(s, e)
	case CreateAccountBegan:
		return reduceToggleForm(s, Unauthenticated, CreatingAccount)
	case CreateAccountCancelled:
		return reduceToggleForm(s, CreatingAccount, Unauthenticated)
	default:
		return s, ErrInvalidTransition
	}
}

// reduceAuthChanged handles provider pushes. While authenticated a profile
// push replaces the profile without changing the variant.
func reduceAuthChanged(s Session, e AuthChanged) Session {
	if e.Profile != nil {
		return authenticated(*e.Profile, s.ActionPending)
	}
	switch s.Kind {
	case Initializing, Authenticated:
		return Session{Kind: Unauthenticated, ActionPending: s.ActionPending}
	default:
		return s
	}
}

func reduceStarted(s Session, from Kind) (Session, error) {
	if s.ActionPending {
		return s, errActionPending
	}
	if s.Kind != from {
		return s, ErrInvalidTransition
	}
	s.ActionPending = true
	return s, nil
}

// reduceSignUpSettled authenticates on success without waiting for a push:
// account creation signs the user in as part of the same call. If a push
// already authenticated the session, its profile is kept.
func reduceSignUpSettled(s Session, e SignUpSettled) Session {
	s.ActionPending = false
	if e.Err != nil || s.Kind == Authenticated {
		return s
	}
	return authenticated(e.Profile, false)
}

// reduceSignOutSettled treats ErrNoCurrentSession as success: the provider
// already has no session, so the local view follows the user's intent.
func reduceSignOutSettled(s Session, e SignOutSettled) (Session, error) {
	if s.Kind == Initializing {
		return s, ErrInvalidTransition
	}
	if e.Err != nil && !errors.Is(e.Err, service.ErrNoCurrentSession) {
		return s, nil
	}
	return Session{Kind: Unauthenticated, ActionPending: s.ActionPending}, nil
}

func reduceToggleForm(s Session, from, to Kind) (Session, error) {
	if s.Kind != from || s.ActionPending {
		return s, ErrInvalidTransition
	}
	return Session{Kind: to}, nil
}
