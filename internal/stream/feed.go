// Package stream keeps a single push subscription alive.
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultRetryDelay is the first re-subscribe delay after a drop.
	DefaultRetryDelay = time.Second

	// DefaultMaxRetryDelay caps the exponential backoff.
	DefaultMaxRetryDelay = 30 * time.Second
)

var (
	// ErrStarted is returned by Start on a feed that was already started.
	ErrStarted = errors.New("feed already started")

	// ErrStopped is returned by Start on a stopped feed.
	ErrStopped = errors.New("feed stopped")
)

// SyncDroppedError reports that an upstream push stream failed.
// It is a notice: the feed re-subscribes on its own.
type SyncDroppedError struct {
	Stream string
	Err    error
}

func (e *SyncDroppedError) Error() string {
	return fmt.Sprintf("%s stream dropped: %v", e.Stream, e.Err)
}

func (e *SyncDroppedError) Unwrap() error { return e.Err }

// OpenFunc subscribes upstream. deliver and fail may be called from any
// goroutine, including synchronously from inside OpenFunc.
type OpenFunc[T any] func(deliver func(T), fail func(error)) (unsubscribe func())

// Options configures a Feed.
type Options[T any] struct {
	// Name identifies the stream in notices and logs.
	Name string

	Open OpenFunc[T]

	// OnEvent receives every delivery from the live subscription.
	OnEvent func(T)

	// OnDrop receives a *SyncDroppedError for every failure. Optional.
	OnDrop func(error)

	// RetryDelay is the first re-subscribe delay. Each consecutive drop
	// doubles it up to MaxRetryDelay; a delivery resets it.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// Schedule arms re-subscribe attempts. Defaults to AfterFunc.
	Schedule Scheduler

	Logger *slog.Logger
}

// Feed holds at most one upstream subscription at a time.
type Feed[T any] struct {
	opts Options[T]
	log  *slog.Logger

	mu      sync.Mutex
	gen     uint64
	unsub   func()
	retry   func() // cancels the armed re-subscribe
	backoff *backoff.ExponentialBackOff
	started bool
	stopped bool
}

// New creates a stopped feed. Call Start to subscribe.
func New[T any](opts Options[T]) *Feed[T] {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = max(DefaultMaxRetryDelay, opts.RetryDelay)
	}
	if opts.Schedule == nil {
		opts.Schedule = AfterFunc
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	b.MaxInterval = opts.MaxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &Feed[T]{
		opts:    opts,
		log:     log.With("stream", opts.Name),
		backoff: b,
	}
}

// Start opens the subscription.
func (f *Feed[T]) Start() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if f.started {
		f.mu.Unlock()
		return ErrStarted
	}
	f.started = true
	f.mu.Unlock()

	f.open()
	return nil
}

// Stop releases the subscription and cancels any pending re-subscribe.
// Deliveries racing with Stop are discarded once Stop has returned.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.gen++
	unsub := f.unsub
	f.unsub = nil
	retry := f.retry
	f.retry = nil
	f.mu.Unlock()

	if retry != nil {
		retry()
	}
	if unsub != nil {
		unsub()
	}
	f.log.Debug("feed stopped")
}

// Live reports whether a subscription is currently held.
func (f *Feed[T]) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsub != nil
}

func (f *Feed[T]) open() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	f.retry = nil
	f.mu.Unlock()

	f.log.Debug("subscribing", "gen", gen)
	unsub := f.opts.Open(
		func(v T) { f.deliver(gen, v) },
		func(err error) { f.fail(gen, err) },
	)

	f.mu.Lock()
	if f.gen != gen {
		// Stopped, or failed synchronously inside Open.
		f.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return
	}
	f.unsub = unsub
	f.mu.Unlock()
}

func (f *Feed[T]) deliver(gen uint64, v T) {
	f.mu.Lock()
	if f.stopped || f.gen != gen {
		f.mu.Unlock()
		f.log.Debug("discarding stale delivery", "gen", gen)
		return
	}
	f.backoff.Reset()
	f.mu.Unlock()

	f.opts.OnEvent(v)
}

func (f *Feed[T]) fail(gen uint64, err error) {
	f.mu.Lock()
	if f.stopped || f.gen != gen {
		f.mu.Unlock()
		return
	}
	f.gen++
	unsub := f.unsub
	f.unsub = nil
	delay := f.backoff.NextBackOff()
	f.retry = f.opts.Schedule(delay, f.open)
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	dropped := &SyncDroppedError{Stream: f.opts.Name, Err: err}
	f.log.Warn("stream dropped", "err", err, "retry_in", delay)
	if f.opts.OnDrop != nil {
		f.opts.OnDrop(dropped)
	}
}
