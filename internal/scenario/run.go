package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"tasksync/internal/backend/memory"
	"tasksync/internal/mirror"
	"tasksync/internal/screen"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/stream"
)

// ErrExpectation is returned when an expect step does not hold.
var ErrExpectation = errors.New("expectation failed")

// callTimeout bounds how long a step waits for a provider call to settle
// or block on the hold gate.
const callTimeout = 5 * time.Second

// Options configures Run.
type Options struct {
	Logger *slog.Logger
}

type runner struct {
	sc       *Scenario
	w        io.Writer
	identity *memory.Identity
	store    *memory.Store
	sched    *stream.Manual
	scr      *screen.Screen
	users    map[string]User
	inflight []*call
	noticed  int
}

type call struct {
	op   string
	done chan error
}

// Run replays sc and writes the trace to w: a header, then one line per
// step of the form
//
//	NN <step> -> <result> | <session> | <items>
//
// followed by any notices the step raised. Run stops at the first failed
// expectation and returns an error wrapping ErrExpectation.
func Run(ctx context.Context, sc *Scenario, w io.Writer, opts Options) error {
	if sc.Collection == "" {
		c := *sc
		c.Collection = DefaultCollection
		sc = &c
	}
	policy, err := mirror.ParsePolicy(sc.Policy)
	if err != nil {
		return err
	}

	r := &runner{
		sc:       sc,
		w:        w,
		identity: memory.NewIdentity(),
		store:    memory.NewStore(),
		sched:    &stream.Manual{},
		users:    make(map[string]User, len(sc.Users)),
	}
	for _, u := range sc.Users {
		r.users[u.Email] = u
		r.identity.AddAccount(u.Email, u.Password, r.profile(u.Email, ""))
		if u.Google {
			r.identity.LinkGoogle(u.Email)
		}
	}
	if sc.SignedIn != "" {
		p := r.profile(sc.SignedIn, "")
		r.identity.Push(&p)
	}
	for _, it := range sc.Items {
		r.store.Put(sc.Collection, it.ID, it.Title, it.Done)
	}

	r.scr, err = screen.New(service.Backend{Identity: r.identity, Store: r.store}, screen.Options{
		Collection: sc.Collection,
		Policy:     policy,
		Schedule:   r.sched.Schedule,
		Logger:     opts.Logger,
	})
	if err != nil {
		return err
	}
	defer r.finish()

	fmt.Fprintf(w, "scenario: %s\n", sc.Name)
	fmt.Fprintf(w, "policy: %s\n", policy)

	r.trace(0, "open", result(r.scr.Open()))

	for i, st := range sc.Steps {
		res, err := r.step(ctx, st)
		if err != nil && !errors.Is(err, ErrExpectation) {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		if err != nil {
			res = "FAIL: " + strings.TrimPrefix(err.Error(), ErrExpectation.Error()+": ")
		}
		r.trace(i+1, describe(st), res)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// finish releases held calls and closes the screen.
func (r *runner) finish() {
	r.identity.Release()
	for _, c := range r.inflight {
		select {
		case <-c.done:
		case <-time.After(callTimeout):
		}
	}
	r.scr.Close()
}

func (r *runner) step(ctx context.Context, st Step) (string, error) {
	col := r.sc.Collection
	switch st.Op {
	case OpPushAuth:
		if st.Email == "" {
			r.identity.Push(nil)
			return "ok", nil
		}
		p := r.profile(st.Email, st.Name)
		r.identity.Push(&p)
		return "ok", nil
	case OpDropAuth:
		r.identity.Drop(errors.New(st.Error))
		return "ok", nil
	case OpPublish:
		r.store.Publish(col, st.Records)
		return "ok", nil
	case OpDropStore:
		r.store.Drop(col, errors.New(st.Error))
		return "ok", nil
	case OpRemoteSet:
		return result(r.store.SetRemote(col, st.Item, st.Done)), nil
	case OpRemoteAdd:
		r.store.Put(col, st.Item, st.Title, st.Done)
		return "ok", nil
	case OpRemoteDelete:
		r.store.Delete(col, st.Item)
		return "ok", nil
	case OpSignIn:
		d := session.Draft{Email: st.Email, Password: st.Password}
		return r.call(st.Op, func() error { return r.scr.SubmitSignIn(ctx, d) })
	case OpSignInGoogle:
		return r.call(st.Op, func() error { return r.scr.SubmitGoogleSignIn(ctx) })
	case OpSignUp:
		d := session.Draft{Email: st.Email, Password: st.Password}
		return r.call(st.Op, func() error { return r.scr.SubmitSignUp(ctx, d) })
	case OpSignOut:
		return r.call(st.Op, func() error { return r.scr.SignOut(ctx) })
	case OpBeginCreateAccount:
		return result(r.scr.BeginCreateAccount()), nil
	case OpCancelCreateAccount:
		return result(r.scr.CancelCreateAccount()), nil
	case OpToggle:
		return result(r.scr.Toggle(ctx, st.Item)), nil
	case OpHold:
		r.identity.Hold()
		return "ok", nil
	case OpRelease:
		return r.release()
	case OpResubscribe:
		return fmt.Sprintf("ok (%d)", r.sched.Fire()), nil
	case OpInject:
		r.inject(st)
		return "ok", nil
	case OpExpect:
		return "ok", r.expect(st.Expect)
	default:
		return "", fmt.Errorf("unknown op %q", st.Op)
	}
}

// call runs fn until it settles or blocks on the hold gate.
func (r *runner) call(op string, fn func() error) (string, error) {
	before := r.identity.Waiting()
	c := &call{op: op, done: make(chan error, 1)}
	go func() { c.done <- fn() }()

	deadline := time.Now().Add(callTimeout)
	for {
		select {
		case err := <-c.done:
			return result(err), nil
		default:
		}
		if r.identity.Waiting() > before {
			r.inflight = append(r.inflight, c)
			return "held", nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%s did not settle", op)
		}
		time.Sleep(time.Millisecond)
	}
}

// release opens the hold gate and waits for every held call in the order
// they were made.
func (r *runner) release() (string, error) {
	r.identity.Release()
	calls := r.inflight
	r.inflight = nil

	var b strings.Builder
	b.WriteString("ok")
	for _, c := range calls {
		select {
		case err := <-c.done:
			fmt.Fprintf(&b, " [%s: %s]", c.op, result(err))
		case <-time.After(callTimeout):
			return "", fmt.Errorf("held %s did not settle", c.op)
		}
	}
	return b.String(), nil
}

func (r *runner) inject(st Step) {
	var err error
	if st.Error != "" {
		err = errors.New(st.Error)
	}
	switch st.Target {
	case TargetSignIn:
		r.identity.SignInErr = err
	case TargetSignUp:
		r.identity.SignUpErr = err
	case TargetSignOut:
		r.identity.SignOutErr = err
	case TargetWrite:
		r.store.SetDoneErr = err
	case TargetLostWrites:
		r.store.DropWrites = st.Enabled
	case TargetQuietSignIn:
		r.identity.QuietSignIn = st.Enabled
	}
}

func (r *runner) expect(e *Expect) error {
	v := r.scr.View()
	var failed []string
	check := func(what string, want, got any) {
		if want != got {
			failed = append(failed, fmt.Sprintf("%s: want %v, got %v", what, want, got))
		}
	}

	if e.Session != "" {
		check("session", e.Session, v.Session.Kind.String())
	}
	if e.Profile != "" {
		got := ""
		if v.Session.Profile != nil {
			got = v.Session.Profile.Name()
		}
		check("profile", e.Profile, got)
	}
	if e.Pending != nil {
		check("pending", *e.Pending, v.Session.ActionPending)
	}
	if e.Synced != nil {
		check("synced", *e.Synced, v.Synced)
	}
	if e.Items != nil {
		check("items", strings.Join(*e.Items, " "), strings.Join(itemTokens(v), " "))
	}
	if e.Notices != nil {
		check("notices", *e.Notices, len(r.scr.Notices()))
	}
	for _, op := range slices.Sorted(maps.Keys(e.Calls)) {
		check("calls "+op, e.Calls[op], r.identity.Calls(op))
	}
	if e.Writes != nil {
		check("writes", *e.Writes, r.store.Writes())
	}
	if e.AuthListeners != nil {
		check("auth listeners", *e.AuthListeners, r.identity.Listeners())
	}
	if e.StoreListeners != nil {
		check("store listeners", *e.StoreListeners, r.store.Listeners(r.sc.Collection))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrExpectation, strings.Join(failed, "; "))
	}
	return nil
}

func (r *runner) trace(n int, desc, res string) {
	fmt.Fprintf(r.w, "%02d %s -> %s | %s\n", n, desc, res, formatView(r.scr.View()))

	notices := r.scr.Notices()
	if len(notices) < r.noticed {
		r.noticed = 0
	}
	for _, err := range notices[r.noticed:] {
		fmt.Fprintf(r.w, "   ! %v\n", err)
	}
	r.noticed = len(notices)
}

// profile returns the provider profile for email, with an optional display
// name override.
func (r *runner) profile(email, name string) service.Profile {
	u := r.users[email]
	p := service.Profile{DisplayName: u.Name, Email: email, PhotoURL: u.Photo}
	if name != "" {
		p.DisplayName = name
	}
	return p
}

func formatView(v screen.View) string {
	var items string
	switch {
	case v.Session.Kind != session.Authenticated:
		items = "-"
	case !v.Synced:
		items = "syncing"
	case len(v.Items) == 0:
		items = "(empty)"
	default:
		items = strings.Join(itemTokens(v), " ")
	}
	return v.Session.String() + " | " + items
}

func itemTokens(v screen.View) []string {
	tokens := make([]string, len(v.Items))
	for i, it := range v.Items {
		tokens[i] = fmt.Sprintf("%s=%t", it.ID, it.IsDone)
		if slices.Contains(v.Pending, it.ID) {
			tokens[i] += "*"
		}
	}
	return tokens
}

func describe(st Step) string {
	switch st.Op {
	case OpSignIn, OpSignUp:
		if st.Email == "" {
			return st.Op + " <blank>"
		}
		return st.Op + " " + st.Email
	case OpPushAuth:
		if st.Email == "" {
			return st.Op + " <none>"
		}
		return st.Op + " " + st.Email
	case OpToggle, OpRemoteDelete:
		return st.Op + " " + st.Item
	case OpRemoteSet, OpRemoteAdd:
		return fmt.Sprintf("%s %s=%t", st.Op, st.Item, st.Done)
	case OpPublish:
		return fmt.Sprintf("%s %d records", st.Op, len(st.Records))
	case OpDropAuth, OpDropStore:
		return fmt.Sprintf("%s %q", st.Op, st.Error)
	case OpInject:
		if st.Target == TargetLostWrites || st.Target == TargetQuietSignIn {
			return fmt.Sprintf("%s %s=%t", st.Op, st.Target, st.Enabled)
		}
		if st.Error == "" {
			return st.Op + " " + st.Target + " cleared"
		}
		return fmt.Sprintf("%s %s %q", st.Op, st.Target, st.Error)
	default:
		return st.Op
	}
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error: " + err.Error()
}
