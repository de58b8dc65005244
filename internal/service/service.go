// Package service defines the backend-agnostic contracts for the identity
// provider and the remote collection store.
// The session and mirror packages only ever talk to these interfaces;
// nothing outside internal/backend imports a provider SDK.
package service

import (
	"context"
	"errors"
)

// ErrNoCurrentSession is returned by Identity.SignOut when the provider has
// no signed-in user.
var ErrNoCurrentSession = errors.New("no current session")

// ErrInvalidCredentials is returned when the provider rejects an email and
// password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountExists is returned by Identity.SignUp when the email is taken.
var ErrAccountExists = errors.New("account already exists")

// Identity is the identity provider.
type Identity interface {
	// OnAuthChange registers fn for authentication-state pushes.
	// fn receives the current profile, nil when nobody is signed in, or a
	// non-nil error when the stream dropped. After an error the subscription
	// is dead and must be re-established by the caller.
	// The provider delivers the current state once after subscribing.
	OnAuthChange(fn func(*Profile, error)) (unsubscribe func())

	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (Profile, error)

	// SignUp creates an account and signs it in with one call.
	SignUp(ctx context.Context, email, password string) (Profile, error)

	// SignOut ends the provider session.
	// Returns ErrNoCurrentSession (possibly wrapped) if there is none.
	SignOut(ctx context.Context) error
}

// GoogleIdentity is implemented by providers that can sign in through a
// browser consent flow instead of a password.
type GoogleIdentity interface {
	// SignInWithGoogle runs the interactive flow and returns once the
	// provider holds a session. The auth push follows as for SignIn.
	SignInWithGoogle(ctx context.Context) (Profile, error)
}

// Store is the remote collection store.
type Store interface {
	// SubscribeSnapshot registers fn for full-collection snapshots of
	// collectionID. Every delivery is the complete current set of records.
	// A non-nil error means the stream dropped; the subscription is dead.
	SubscribeSnapshot(collectionID string, fn func([]Record, error)) (unsubscribe func())
}

// Writer is implemented by stores that accept item updates.
type Writer interface {
	// SetDone sets the done flag of one item.
	SetDone(ctx context.Context, collectionID, itemID string, done bool) error
}

// Backend bundles the two collaborators a screen needs.
type Backend struct {
	Identity Identity
	Store    Store
}
