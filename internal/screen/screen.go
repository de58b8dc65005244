// Package screen composes the session machine and the collection mirror
// into the state of the authenticated-list screen.
//
// A mirror exists exactly while the session is authenticated. Each
// authenticated period gets a fresh mirror, so nothing from the previous
// user survives a sign-out.
package screen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tasksync/internal/mirror"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/stream"
)

// ErrNotAuthenticated is returned by Toggle while no mirror is open.
var ErrNotAuthenticated = errors.New("not authenticated")

// maxNotices bounds the notice banner backlog.
const maxNotices = 16

// Options configures a Screen.
type Options struct {
	Collection string
	Policy     mirror.Policy
	RetryDelay time.Duration
	Schedule   stream.Scheduler
	Logger     *slog.Logger

	// OnNotice receives every non-fatal error as it happens. Optional.
	OnNotice func(error)
}

// View is what the presentation layer renders.
type View struct {
	Session session.Session

	// Items is the merged view; nil while unauthenticated.
	Items []mirror.Item

	// Synced is true once the current mirror applied a snapshot.
	Synced bool

	// Pending lists item ids whose value is not yet confirmed remotely.
	Pending []string
}

// Screen owns one Machine and, while authenticated, one Engine.
type Screen struct {
	store   service.Store
	opts    Options
	log     *slog.Logger
	machine *session.Machine

	notifyMu sync.Mutex

	mu        sync.Mutex
	engine    *mirror.Engine
	stopView  func()
	notices   []error
	observers []observer
	nextObs   int
	opened    bool
	closed    bool
}

// New creates a screen over backend. Call Open to start it.
func New(backend service.Backend, opts Options) (*Screen, error) {
	if opts.Policy == mirror.PolicyWriteThrough {
		if _, ok := backend.Store.(service.Writer); !ok {
			return nil, mirror.ErrNoWriter
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Screen{
		store: backend.Store,
		opts:  opts,
		log:   log,
	}
	s.machine = session.NewMachine(backend.Identity, session.Options{
		Logger:     log,
		OnNotice:   s.notice,
		RetryDelay: opts.RetryDelay,
		Schedule:   opts.Schedule,
	})
	return s, nil
}

// Open subscribes to the identity provider.
func (s *Screen) Open() error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return session.ErrStarted
	}
	s.opened = true
	s.mu.Unlock()

	s.machine.Observe(s.onSession)
	return s.machine.Start()
}

// Close releases both subscriptions.
func (s *Screen) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.machine.Close()
	s.detach()
}

// Machine returns the session machine.
func (s *Screen) Machine() *session.Machine { return s.machine }

// View returns the current screen state.
func (s *Screen) View() View {
	v := View{Session: s.machine.State()}

	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		v.Items = eng.MergedView()
		v.Synced = eng.Ready()
		v.Pending = eng.Pending()
	}
	return v
}

type observer struct {
	id int
	fn func(View)
}

// Observe registers fn for every change of the view. Observers are called
// in registration order.
func (s *Screen) Observe(fn func(View)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.observers = slices.DeleteFunc(s.observers, func(o observer) bool { return o.id == id })
		s.mu.Unlock()
	}
}

// Await blocks until pred holds for the view or ctx is done.
func (s *Screen) Await(ctx context.Context, pred func(View) bool) (View, error) {
	ch := make(chan View, 1)
	cancel := s.Observe(func(v View) {
		if pred(v) {
			select {
			case ch <- v:
			default:
			}
		}
	})
	defer cancel()

	if v := s.View(); pred(v) {
		return v, nil
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return s.View(), ctx.Err()
	}
}

// Notices returns the undismissed non-fatal errors, oldest first.
func (s *Screen) Notices() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.notices...)
}

// DismissNotices clears the notice banner.
func (s *Screen) DismissNotices() {
	s.mu.Lock()
	s.notices = nil
	s.mu.Unlock()
}

// SubmitSignIn forwards to the session machine.
func (s *Screen) SubmitSignIn(ctx context.Context, d session.Draft) error {
	return s.machine.SubmitSignIn(ctx, d)
}

// SubmitGoogleSignIn forwards to the session machine.
func (s *Screen) SubmitGoogleSignIn(ctx context.Context) error {
	return s.machine.SubmitGoogleSignIn(ctx)
}

// SubmitSignUp forwards to the session machine.
func (s *Screen) SubmitSignUp(ctx context.Context, d session.Draft) error {
	return s.machine.SubmitSignUp(ctx, d)
}

// SignOut forwards to the session machine.
func (s *Screen) SignOut(ctx context.Context) error {
	return s.machine.SignOut(ctx)
}

// BeginCreateAccount forwards to the session machine.
func (s *Screen) BeginCreateAccount() error { return s.machine.BeginCreateAccount() }

// CancelCreateAccount forwards to the session machine.
func (s *Screen) CancelCreateAccount() error { return s.machine.CancelCreateAccount() }

// Toggle flips an item of the open mirror.
func (s *Screen) Toggle(ctx context.Context, itemID string) error {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return ErrNotAuthenticated
	}
	return eng.Toggle(ctx, itemID)
}

// onSession runs on every session change. It must not hold s.mu while the
// engine subscribes: the store may deliver the first snapshot synchronously.
func (s *Screen) onSession(sess session.Session) {
	if sess.Kind == session.Authenticated {
		s.attach()
	} else {
		s.detach()
	}
	s.emit()
}

func (s *Screen) attach() {
	s.mu.Lock()
	if s.closed || s.engine != nil {
		s.mu.Unlock()
		return
	}
	eng, err := mirror.NewEngine(s.store, mirror.Options{
		Collection: s.opts.Collection,
		Policy:     s.opts.Policy,
		Logger:     s.log,
		OnNotice:   s.notice,
		RetryDelay: s.opts.RetryDelay,
		Schedule:   s.opts.Schedule,
	})
	if err != nil {
		s.mu.Unlock()
		s.notice(err)
		return
	}
	s.engine = eng
	s.stopView = eng.Observe(func([]mirror.Item) { s.emit() })
	s.mu.Unlock()

	s.log.Info("opening collection", "collection", s.opts.Collection, "policy", eng.Policy().String())
	if err := eng.Subscribe(); err != nil {
		s.notice(err)
	}
}

func (s *Screen) detach() {
	s.mu.Lock()
	eng, stop := s.engine, s.stopView
	s.engine, s.stopView = nil, nil
	s.mu.Unlock()

	if eng == nil {
		return
	}
	stop()
	eng.Unsubscribe()
	s.log.Info("closed collection", "collection", s.opts.Collection)
}

func (s *Screen) emit() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	v := s.View()
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(v)
	}
}

func (s *Screen) notice(err error) {
	s.mu.Lock()
	s.notices = append(s.notices, err)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
	s.mu.Unlock()

	s.log.Warn("notice", "err", err)
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(err)
	}
}
