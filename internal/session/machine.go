package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tasksync/internal/service"
	"tasksync/internal/stream"
)

// StreamName names the provider push stream in notices.
const StreamName = "auth"

// Options configures a Machine.
type Options struct {
	Logger *slog.Logger

	// OnNotice receives non-fatal stream errors (*stream.SyncDroppedError).
	OnNotice func(error)

	// RetryDelay is the first re-subscribe delay after the auth stream drops.
	RetryDelay time.Duration

	// Schedule arms re-subscribe attempts. Defaults to real timers.
	Schedule stream.Scheduler
}

// Machine owns the session state and the provider subscription.
//
// All mutations go through dispatch, which holds mu while reducing and
// notifyMu while calling observers, so observers see states in the order
// they were produced. Observers must not call mutating Machine methods
// synchronously.
type Machine struct {
	provider service.Identity
	log      *slog.Logger
	feed     *stream.Feed[*service.Profile]

	notifyMu sync.Mutex

	mu        sync.Mutex
	state     Session
	draft     Draft
	observers []observer
	nextObs   int
	started   bool
	closed    bool
}

// NewMachine creates a Machine in Initializing. Call Start to subscribe.
func NewMachine(provider service.Identity, opts Options) *Machine {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Machine{
		provider: provider,
		log:      log.With("component", "session"),
		state:    Session{Kind: Initializing},
	}
	m.feed = stream.New(stream.Options[*service.Profile]{
		Name: StreamName,
		Open: func(deliver func(*service.Profile), fail func(error)) func() {
			return provider.OnAuthChange(func(p *service.Profile, err error) {
				if err != nil {
					fail(err)
					return
				}
				deliver(p)
			})
		},
		OnEvent: func(p *service.Profile) {
			m.dispatch(AuthChanged{Profile: p})
		},
		OnDrop:     opts.OnNotice,
		RetryDelay: opts.RetryDelay,
		Schedule:   opts.Schedule,
		Logger:     log,
	})
	return m
}

// Start subscribes to the provider's auth-change stream.
// Exactly one subscription is held until Close.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrStarted
	}
	m.started = true
	m.mu.Unlock()

	return m.feed.Start()
}

// Close releases the subscription. No provider event or call outcome
// mutates the session afterwards.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.feed.Stop()
}

// State returns the current session.
func (m *Machine) State() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

type observer struct {
	id int
	fn func(Session)
}

// Observe registers fn for every state change. Observers are called in
// registration order. The returned func removes it.
func (m *Machine) Observe(fn func(Session)) (cancel func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers = append(m.observers, observer{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.observers = slices.DeleteFunc(m.observers, func(o observer) bool { return o.id == id })
		m.mu.Unlock()
	}
}

// Draft returns the credential draft. It is not readable while authenticated.
func (m *Machine) Draft() (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind == Authenticated {
		return Draft{}, ErrInvalidTransition
	}
	return m.draft, nil
}

// EditDraft mutates the credential draft in place.
func (m *Machine) EditDraft(fn func(*Draft)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Kind == Authenticated {
		return ErrInvalidTransition
	}
	fn(&m.draft)
	return nil
}

// BeginCreateAccount switches from sign-in to account creation.
func (m *Machine) BeginCreateAccount() error {
	return m.dispatch(CreateAccountBegan{})
}

// CancelCreateAccount switches from account creation back to sign-in.
func (m *Machine) CancelCreateAccount() error {
	return m.dispatch(CreateAccountCancelled{})
}

// SubmitSignIn signs in with the draft credentials.
//
// A submit while another call is pending is ignored and returns nil.
// The pending flag is cleared when the provider call settles; the
// transition to Authenticated arrives as a provider push.
func (m *Machine) SubmitSignIn(ctx context.Context, d Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := m.dispatch(SignInStarted{}); err != nil {
		return m.ignorePending(err, "sign-in")
	}

	action := uuid.NewString()
	m.log.Debug("sign-in submitted", "action", action)

	_, err := m.provider.SignIn(ctx, d.Email, d.Password)
	m.dispatch(SignInSettled{Err: err})
	if err != nil {
		m.log.Info("sign-in failed", "action", action, "err", err)
		return &ProviderAuthError{Op: "sign in", Err: err}
	}
	m.log.Info("sign-in settled", "action", action)
	return nil
}

// SubmitGoogleSignIn signs in through the provider's browser flow. It
// returns ErrUnsupported when the provider has none. Pending and no-op
// rules match SubmitSignIn; the draft is not consulted.
func (m *Machine) SubmitGoogleSignIn(ctx context.Context) error {
	g, ok := m.provider.(service.GoogleIdentity)
	if !ok {
		return ErrUnsupported
	}
	if err := m.dispatch(SignInStarted{}); err != nil {
		return m.ignorePending(err, "google sign-in")
	}

	action := uuid.NewString()
	m.log.Debug("google sign-in submitted", "action", action)

	_, err := g.SignInWithGoogle(ctx)
	m.dispatch(SignInSettled{Err: err})
	if err != nil {
		m.log.Info("google sign-in failed", "action", action, "err", err)
		return &ProviderAuthError{Op: "sign in with google", Err: err}
	}
	m.log.Info("google sign-in settled", "action", action)
	return nil
}

// SubmitSignUp creates an account and authenticates with it directly.
func (m *Machine) SubmitSignUp(ctx context.Context, d Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := m.dispatch(SignUpStarted{}); err != nil {
		return m.ignorePending(err, "sign-up")
	}

	action := uuid.NewString()
	m.log.Debug("sign-up submitted", "action", action)

	profile, err := m.provider.SignUp(ctx, d.Email, d.Password)
	m.dispatch(SignUpSettled{Profile: profile, Err: err})
	if err != nil {
		m.log.Info("sign-up failed", "action", action, "err", err)
		return &ProviderAuthError{Op: "sign up", Err: err}
	}
	m.log.Info("sign-up settled", "action", action)
	return nil
}

// SignOut ends the session. A provider without a current session counts as
// success.
func (m *Machine) SignOut(ctx context.Context) error {
	m.mu.Lock()
	closed, kind := m.closed, m.state.Kind
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if kind == Initializing {
		return ErrInvalidTransition
	}

	err := m.provider.SignOut(ctx)
	m.dispatch(SignOutSettled{Err: err})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrNoCurrentSession):
		m.log.Info("sign-out: provider had no session", "err", err)
		return nil
	default:
		return &ProviderAuthError{Op: "sign out", Err: err}
	}
}

func (m *Machine) ignorePending(err error, op string) error {
	if errors.Is(err, errActionPending) {
		m.log.Debug("submit ignored while action pending", "op", op)
		return nil
	}
	return err
}

// dispatch reduces ev into the state and notifies observers of a change.
func (m *Machine) dispatch(ev Event) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prev := m.state
	next, err := Reduce(prev, ev)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if next.Equal(prev) {
		m.mu.Unlock()
		return nil
	}
	m.state = next
	if next.Kind != prev.Kind {
		m.draft = Draft{}
	}
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	m.log.Debug("session transition", "event", ev.Type(), "from", prev.String(), "to", next.String())
	for _, o := range observers {
		o.fn(next)
	}
	return nil
}
