package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/service"
)

var ada = service.Profile{DisplayName: "Ada", Email: "ada@example.com"}

func TestReduce_AuthChanged(t *testing.T) {
	grace := service.Profile{DisplayName: "Grace", Email: "grace@example.com"}

	tests := []struct {
		name string
		from Session
		push *service.Profile
		want Session
	}{
		{name: "initializing to signed in", from: Session{Kind: Initializing}, push: &ada, want: authenticated(ada, false)},
		{name: "initializing to signed out", from: Session{Kind: Initializing}, push: nil, want: Session{Kind: Unauthenticated}},
		{name: "sign-in form to signed in", from: Session{Kind: Unauthenticated}, push: &ada, want: authenticated(ada, false)},
		{name: "create form to signed in", from: Session{Kind: CreatingAccount}, push: &ada, want: authenticated(ada, false)},
		{name: "pending flag survives", from: Session{Kind: Unauthenticated, ActionPending: true}, push: &ada, want: authenticated(ada, true)},
		{name: "profile replaced", from: authenticated(ada, false), push: &grace, want: authenticated(grace, false)},
		{name: "revoked", from: authenticated(ada, false), push: nil, want: Session{Kind: Unauthenticated}},
		{name: "nil keeps sign-in form", from: Session{Kind: Unauthenticated}, push: nil, want: Session{Kind: Unauthenticated}},
		{name: "nil keeps create form", from: Session{Kind: CreatingAccount}, push: nil, want: Session{Kind: CreatingAccount}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reduce(tt.from, AuthChanged{Profile: tt.push})
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestReduce_Started(t *testing.T) {
	tests := []struct {
		name    string
		from    Session
		ev      Event
		want    Session
		wantErr error
	}{
		{name: "sign-in from form", from: Session{Kind: Unauthenticated}, ev: SignInStarted{}, want: Session{Kind: Unauthenticated, ActionPending: true}},
		{name: "sign-in while pending", from: Session{Kind: Unauthenticated, ActionPending: true}, ev: SignInStarted{}, wantErr: errActionPending},
		{name: "sign-in from create form", from: Session{Kind: CreatingAccount}, ev: SignInStarted{}, wantErr: ErrInvalidTransition},
		{name: "sign-in while initializing", from: Session{Kind: Initializing}, ev: SignInStarted{}, wantErr: ErrInvalidTransition},
		{name: "sign-in while authenticated", from: authenticated(ada, false), ev: SignInStarted{}, wantErr: ErrInvalidTransition},
		{name: "sign-up from create form", from: Session{Kind: CreatingAccount}, ev: SignUpStarted{}, want: Session{Kind: CreatingAccount, ActionPending: true}},
		{name: "sign-up from sign-in form", from: Session{Kind: Unauthenticated}, ev: SignUpStarted{}, wantErr: ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reduce(tt.from, tt.ev)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, tt.from.Equal(got), "state must not change on error")
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestReduce_SignInSettledClearsPending(t *testing.T) {
	got, err := Reduce(Session{Kind: Unauthenticated, ActionPending: true}, SignInSettled{Err: service.ErrInvalidCredentials})
	require.NoError(t, err)
	assert.Equal(t, Session{Kind: Unauthenticated}, got)

	// Success does not authenticate by itself; the push does.
	got, err = Reduce(Session{Kind: Unauthenticated, ActionPending: true}, SignInSettled{})
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, got.Kind)
	assert.False(t, got.ActionPending)
}

func TestReduce_SignUpSettled(t *testing.T) {
	bob := service.Profile{Email: "bob@example.com"}

	got, err := Reduce(Session{Kind: CreatingAccount, ActionPending: true}, SignUpSettled{Profile: bob})
	require.NoError(t, err)
	assert.True(t, authenticated(bob, false).Equal(got), "got %s", got)

	got, err = Reduce(Session{Kind: CreatingAccount, ActionPending: true}, SignUpSettled{Err: service.ErrAccountExists})
	require.NoError(t, err)
	assert.Equal(t, Session{Kind: CreatingAccount}, got)

	// A push that arrived first wins.
	got, err = Reduce(authenticated(ada, true), SignUpSettled{Profile: bob})
	require.NoError(t, err)
	assert.True(t, authenticated(ada, false).Equal(got), "got %s", got)
}

func TestReduce_SignOutSettled(t *testing.T) {
	tests := []struct {
		name    string
		from    Session
		err     error
		want    Session
		wantErr error
	}{
		{name: "success", from: authenticated(ada, false), want: Session{Kind: Unauthenticated}},
		{name: "provider had no session", from: authenticated(ada, false), err: service.ErrNoCurrentSession, want: Session{Kind: Unauthenticated}},
		{name: "wrapped no session", from: authenticated(ada, false), err: errors.Join(errors.New("x"), service.ErrNoCurrentSession), want: Session{Kind: Unauthenticated}},
		{name: "failure keeps session", from: authenticated(ada, false), err: errors.New("offline"), want: authenticated(ada, false)},
		{name: "from create form", from: Session{Kind: CreatingAccount}, want: Session{Kind: Unauthenticated}},
		{name: "initializing", from: Session{Kind: Initializing}, wantErr: ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reduce(tt.from, SignOutSettled{Err: tt.err})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestReduce_FormToggles(t *testing.T) {
	got, err := Reduce(Session{Kind: Unauthenticated}, CreateAccountBegan{})
	require.NoError(t, err)
	assert.Equal(t, Session{Kind: CreatingAccount}, got)

	got, err = Reduce(Session{Kind: CreatingAccount}, CreateAccountCancelled{})
	require.NoError(t, err)
	assert.Equal(t, Session{Kind: Unauthenticated}, got)

	invalid := []struct {
		from Session
		ev   Event
	}{
		{Session{Kind: Initializing}, CreateAccountBegan{}},
		{Session{Kind: CreatingAccount}, CreateAccountBegan{}},
		{authenticated(ada, false), CreateAccountBegan{}},
		{Session{Kind: Unauthenticated, ActionPending: true}, CreateAccountBegan{}},
		{Session{Kind: Unauthenticated}, CreateAccountCancelled{}},
		{Session{Kind: CreatingAccount, ActionPending: true}, CreateAccountCancelled{}},
	}
	for _, tc := range invalid {
		_, err := Reduce(tc.from, tc.ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tc.ev.Type(), tc.from)
	}
}

func TestSession_String(t *testing.T) {
	assert.Equal(t, "authenticated(Ada)", authenticated(ada, false).String())
	assert.Equal(t, "unauthenticated pending", Session{Kind: Unauthenticated, ActionPending: true}.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestParseKind(t *testing.T) {
	for k := Initializing; k <= Authenticated; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("signed_in")
	assert.Error(t, err)
}

func TestDraft_Validate(t *testing.T) {
	tests := []struct {
		draft Draft
		want  string
	}{
		{Draft{}, "all fields required: missing email, password"},
		{Draft{Email: "   ", Password: "x"}, "all fields required: missing email"},
		{Draft{Email: "a@b"}, "all fields required: missing password"},
	}
	for _, tt := range tests {
		err := tt.draft.Validate()
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, tt.want, err.Error())
	}
	assert.NoError(t, Draft{Email: "a@b", Password: " "}.Validate())
}
