// Package memory implements service.Identity and service.Store in memory.
//
// Pushes are delivered synchronously on the goroutine that caused them,
// which makes event interleavings scriptable. Exported error fields inject
// failures; Hold and Release block provider calls to keep them in flight.
package memory

import (
	"context"
	"sync"

	"tasksync/internal/service"
)

// Identity is an in-memory identity provider.
type Identity struct {
	mu        sync.Mutex
	accounts  map[string]account
	current   *service.Profile
	listeners map[int]func(*service.Profile, error)
	nextID    int
	calls     map[string]int
	gate      chan struct{}
	waiting   int
	google    string

	// Error injection. Checked after the gate, before any state change.
	// SignInErr also fails SignInWithGoogle.
	SignInErr  error
	SignUpErr  error
	SignOutErr error

	// QuietSignIn suppresses the push that normally follows a successful
	// sign-in, as if the provider's stream lagged behind the call.
	QuietSignIn bool
}

type account struct {
	password string
	profile  service.Profile
}

// NewIdentity creates a provider with no accounts and nobody signed in.
func NewIdentity() *Identity {
	return &Identity{
		accounts:  make(map[string]account),
		listeners: make(map[int]func(*service.Profile, error)),
		calls:     make(map[string]int),
	}
}

// AddAccount registers an account. An empty profile email defaults to email.
func (i *Identity) AddAccount(email, password string, p service.Profile) {
	if p.Email == "" {
		p.Email = email
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.accounts[email] = account{password: password, profile: p}
}

// LinkGoogle makes SignInWithGoogle sign in the account registered for
// email, as if its owner completed the browser consent.
func (i *Identity) LinkGoogle(email string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.google = email
}

// Current returns the signed-in profile, or nil.
func (i *Identity) Current() *service.Profile {
	i.mu.Lock()
	defer i.mu.Unlock()
	return copyProfile(i.current)
}

// Push sets the provider-side session and notifies every listener.
func (i *Identity) Push(p *service.Profile) {
	i.mu.Lock()
	i.current = copyProfile(p)
	i.mu.Unlock()
	i.broadcast(p, nil)
}

// Drop fails every live subscription with err. Dropped subscriptions are
// removed; subscribers must re-subscribe.
func (i *Identity) Drop(err error) {
	i.mu.Lock()
	fns := i.snapshotListeners()
	clear(i.listeners)
	i.mu.Unlock()
	for _, fn := range fns {
		fn(nil, err)
	}
}

// Listeners returns the number of live subscriptions.
func (i *Identity) Listeners() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.listeners)
}

// Calls returns how many times op ("sign_in", "sign_in_google", "sign_up",
// "sign_out") was called.
func (i *Identity) Calls(op string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[op]
}

// Hold makes subsequent provider calls block until Release.
func (i *Identity) Hold() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gate == nil {
		i.gate = make(chan struct{})
	}
}

// Release unblocks held calls.
func (i *Identity) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gate != nil {
		close(i.gate)
		i.gate = nil
	}
}

// Waiting returns the number of calls currently blocked by Hold.
func (i *Identity) Waiting() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.waiting
}

// OnAuthChange implements service.Identity. The current state is delivered
// before it returns.
func (i *Identity) OnAuthChange(fn func(*service.Profile, error)) func() {
	i.mu.Lock()
	id := i.nextID
	i.nextID++
	i.listeners[id] = fn
	current := copyProfile(i.current)
	i.mu.Unlock()

	fn(current, nil)

	return func() {
		i.mu.Lock()
		delete(i.listeners, id)
		i.mu.Unlock()
	}
}

// SignIn implements service.Identity.
func (i *Identity) SignIn(ctx context.Context, email, password string) (service.Profile, error) {
	if err := i.enter(ctx, "sign_in"); err != nil {
		return service.Profile{}, err
	}

	i.mu.Lock()
	if i.SignInErr != nil {
		err := i.SignInErr
		i.mu.Unlock()
		return service.Profile{}, err
	}
	acct, ok := i.accounts[email]
	if !ok || acct.password != password {
		i.mu.Unlock()
		return service.Profile{}, service.ErrInvalidCredentials
	}
	p := acct.profile
	i.current = &p
	quiet := i.QuietSignIn
	i.mu.Unlock()

	if !quiet {
		i.broadcast(&p, nil)
	}
	return p, nil
}

// SignInWithGoogle implements service.GoogleIdentity. Without a linked
// account the consent is treated as refused.
func (i *Identity) SignInWithGoogle(ctx context.Context) (service.Profile, error) {
	if err := i.enter(ctx, "sign_in_google"); err != nil {
		return service.Profile{}, err
	}

	i.mu.Lock()
	if i.SignInErr != nil {
		err := i.SignInErr
		i.mu.Unlock()
		return service.Profile{}, err
	}
	acct, ok := i.accounts[i.google]
	if i.google == "" || !ok {
		i.mu.Unlock()
		return service.Profile{}, service.ErrInvalidCredentials
	}
	p := acct.profile
	i.current = &p
	quiet := i.QuietSignIn
	i.mu.Unlock()

	if !quiet {
		i.broadcast(&p, nil)
	}
	return p, nil
}

// SignUp implements service.Identity.
func (i *Identity) SignUp(ctx context.Context, email, password string) (service.Profile, error) {
	if err := i.enter(ctx, "sign_up"); err != nil {
		return service.Profile{}, err
	}

	i.mu.Lock()
	if i.SignUpErr != nil {
		err := i.SignUpErr
		i.mu.Unlock()
		return service.Profile{}, err
	}
	if _, exists := i.accounts[email]; exists {
		i.mu.Unlock()
		return service.Profile{}, service.ErrAccountExists
	}
	p := service.Profile{Email: email}
	i.accounts[email] = account{password: password, profile: p}
	i.current = &p
	i.mu.Unlock()

	i.broadcast(&p, nil)
	return p, nil
}

// SignOut implements service.Identity.
func (i *Identity) SignOut(ctx context.Context) error {
	if err := i.enter(ctx, "sign_out"); err != nil {
		return err
	}

	i.mu.Lock()
	if i.SignOutErr != nil {
		err := i.SignOutErr
		i.mu.Unlock()
		return err
	}
	if i.current == nil {
		i.mu.Unlock()
		return service.ErrNoCurrentSession
	}
	i.current = nil
	i.mu.Unlock()

	i.broadcast(nil, nil)
	return nil
}

// enter counts the call and waits on the gate if one is installed.
func (i *Identity) enter(ctx context.Context, op string) error {
	i.mu.Lock()
	i.calls[op]++
	gate := i.gate
	if gate != nil {
		i.waiting++
	}
	i.mu.Unlock()

	if gate == nil {
		return nil
	}
	defer func() {
		i.mu.Lock()
		i.waiting--
		i.mu.Unlock()
	}()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Identity) broadcast(p *service.Profile, err error) {
	i.mu.Lock()
	fns := i.snapshotListeners()
	i.mu.Unlock()
	for _, fn := range fns {
		fn(copyProfile(p), err)
	}
}

// Caller holds mu.
func (i *Identity) snapshotListeners() []func(*service.Profile, error) {
	fns := make([]func(*service.Profile, error), 0, len(i.listeners))
	for _, fn := range i.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func copyProfile(p *service.Profile) *service.Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
