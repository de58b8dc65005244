// Package mirror keeps a local, optimistically edited copy of one remote
// collection.
//
// The remote store sends full snapshots. Local toggles go into an overlay
// keyed by item id and stamped with a local version; the merged view is the
// last snapshot with the overlay applied on top.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"tasksync/internal/service"
	"tasksync/internal/stream"
)

// StreamName names the collection push stream in notices.
const StreamName = "collection"

var (
	// ErrUnknownItem is returned by Toggle for an id that is not in the last
	// remote snapshot.
	ErrUnknownItem = errors.New("unknown item")

	// ErrClosed is returned after Unsubscribe.
	ErrClosed = errors.New("mirror closed")

	// ErrNoWriter is returned when write-through is requested from a store
	// that does not accept updates.
	ErrNoWriter = errors.New("store does not accept updates")
)

// Item is one entry of the collection.
type Item struct {
	ID     string
	Title  string
	IsDone bool
}

// Policy selects how the overlay is reconciled with remote snapshots.
type Policy int

const (
	// PolicyAuto picks PolicyWriteThrough if the store implements
	// service.Writer and PolicyEphemeral otherwise.
	PolicyAuto Policy = iota

	// PolicyWriteThrough sends every toggle to the store and keeps the
	// overlay entry until a snapshot confirms it.
	PolicyWriteThrough

	// PolicyEphemeral never writes to the store; every newer snapshot
	// discards the overlay.
	PolicyEphemeral
)

func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyWriteThrough:
		return "write-through"
	case PolicyEphemeral:
		return "ephemeral"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy is the inverse of Policy.String. The empty string is auto.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "auto":
		return PolicyAuto, nil
	case "write-through":
		return PolicyWriteThrough, nil
	case "ephemeral":
		return PolicyEphemeral, nil
	default:
		return 0, fmt.Errorf("unknown sync policy: %q", s)
	}
}

// Options configures an Engine.
type Options struct {
	Collection string
	Policy     Policy
	Logger     *slog.Logger

	// OnNotice receives non-fatal errors: stream drops and rejected snapshots.
	OnNotice func(error)

	// RetryDelay is the first re-subscribe delay after the stream drops.
	RetryDelay time.Duration

	// Schedule arms re-subscribe attempts. Defaults to real timers.
	Schedule stream.Scheduler
}

type overlayEntry struct {
	isDone  bool
	version uint64
}

// Engine is the sync engine for one collection.
type Engine struct {
	collection string
	policy     Policy
	writer     service.Writer
	log        *slog.Logger
	onNotice   func(error)
	feed       *stream.Feed[[]service.Record]

	notifyMu sync.Mutex

	mu        sync.Mutex
	remote    []Item
	index     map[string]int
	overlay   map[string]overlayEntry
	version   uint64
	snapshots uint64
	observers []observer
	nextObs   int
	closed    bool
}

// NewEngine creates an engine for opts.Collection on store.
func NewEngine(store service.Store, opts Options) (*Engine, error) {
	writer, canWrite := store.(service.Writer)
	policy := opts.Policy
	switch policy {
	case PolicyAuto:
		policy = PolicyEphemeral
		if canWrite {
			policy = PolicyWriteThrough
		}
	case PolicyWriteThrough:
		if !canWrite {
			return nil, ErrNoWriter
		}
	case PolicyEphemeral:
	default:
		return nil, fmt.Errorf("unknown sync policy: %d", int(policy))
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		collection: opts.Collection,
		policy:     policy,
		writer:     writer,
		log:        log.With("component", "mirror", "collection", opts.Collection),
		onNotice:   opts.OnNotice,
		index:      make(map[string]int),
		overlay:    make(map[string]overlayEntry),
	}
	e.feed = stream.New(stream.Options[[]service.Record]{
		Name: StreamName,
		Open: func(deliver func([]service.Record), fail func(error)) func() {
			return store.SubscribeSnapshot(opts.Collection, func(recs []service.Record, err error) {
				if err != nil {
					fail(err)
					return
				}
				deliver(recs)
			})
		},
		OnEvent:    e.applySnapshot,
		OnDrop:     e.notice,
		RetryDelay: opts.RetryDelay,
		Schedule:   opts.Schedule,
		Logger:     log,
	})
	return e, nil
}

// Policy returns the resolved reconciliation policy.
func (e *Engine) Policy() Policy { return e.policy }

// Subscribe opens the push subscription to the remote collection.
func (e *Engine) Subscribe() error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.feed.Start()
}

// Unsubscribe releases the subscription. Later store events are ignored.
func (e *Engine) Unsubscribe() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.feed.Stop()
}

// Ready reports whether at least one snapshot has been applied.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshots > 0
}

// Version returns the local version of the latest toggle, 0 if none.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Pending returns the ids whose merged value comes from the overlay, sorted.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.overlay))
	for id := range e.overlay {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MergedView returns the visible items in snapshot order.
func (e *Engine) MergedView() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merged()
}

type observer struct {
	id int
	fn func([]Item)
}

// Observe registers fn for every change of the merged view. Observers are
// called in registration order.
func (e *Engine) Observe(fn func([]Item)) (cancel func()) {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers = append(e.observers, observer{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.observers = slices.DeleteFunc(e.observers, func(o observer) bool { return o.id == id })
		e.mu.Unlock()
	}
}

// Toggle flips the merged done flag of itemID.
//
// The merged view changes before Toggle does any I/O. Under write-through the
// update is then sent to the store; if that fails the overlay entry is rolled
// back, unless a later toggle of the same item replaced it.
func (e *Engine) Toggle(ctx context.Context, itemID string) error {
	var next bool
	var version uint64
	err := e.update(func() (bool, error) {
		if e.closed {
			return false, ErrClosed
		}
		i, ok := e.index[itemID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
		}
		next = !e.valueLocked(i)
		e.version++
		version = e.version
		e.overlay[itemID] = overlayEntry{isDone: next, version: version}
		return true, nil
	})
	if err != nil {
		return err
	}
	e.log.Debug("toggled", "item", itemID, "done", next, "version", version)

	if e.policy != PolicyWriteThrough {
		return nil
	}

	if err := e.writer.SetDone(ctx, e.collection, itemID, next); err != nil {
		e.log.Warn("write-through failed, rolling back", "item", itemID, "err", err)
		_ = e.update(func() (bool, error) {
			entry, ok := e.overlay[itemID]
			if !ok || entry.version != version {
				return false, nil
			}
			delete(e.overlay, itemID)
			return true, nil
		})
		return fmt.Errorf("toggle %s: %w", itemID, err)
	}
	return nil
}

func (e *Engine) applySnapshot(records []service.Record) {
	items, err := Decode(records)
	if err != nil {
		e.log.Warn("rejected snapshot", "err", err)
		e.notice(fmt.Errorf("collection %s: rejected snapshot: %w", e.collection, err))
		return
	}

	_ = e.update(func() (bool, error) {
		if e.closed {
			return false, nil
		}
		e.remote = items
		e.index = make(map[string]int, len(items))
		for i, it := range items {
			e.index[it.ID] = i
		}
		e.prune()
		e.snapshots++
		return true, nil
	})
	e.log.Debug("snapshot applied", "items", len(items))
}

// prune drops overlay entries the new snapshot made obsolete.
// Caller holds mu.
func (e *Engine) prune() {
	if e.policy == PolicyEphemeral {
		clear(e.overlay)
		return
	}
	for id, entry := range e.overlay {
		i, ok := e.index[id]
		if !ok || e.remote[i].IsDone == entry.isDone {
			delete(e.overlay, id)
		}
	}
}

// update runs fn under the state lock and, if it reports a change, notifies
// observers with the new merged view in mutation order.
func (e *Engine) update(fn func() (bool, error)) error {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	changed, err := fn()
	if err != nil || !changed {
		e.mu.Unlock()
		return err
	}
	view := e.merged()
	observers := slices.Clone(e.observers)
	e.mu.Unlock()

	for _, o := range observers {
		o.fn(view)
	}
	return nil
}

// Caller holds mu.
func (e *Engine) merged() []Item {
	view := make([]Item, len(e.remote))
	for i, it := range e.remote {
		if entry, ok := e.overlay[it.ID]; ok {
			it.IsDone = entry.isDone
		}
		view[i] = it
	}
	return view
}

// Caller holds mu.
func (e *Engine) valueLocked(i int) bool {
	it := e.remote[i]
	if entry, ok := e.overlay[it.ID]; ok {
		return entry.isDone
	}
	return it.IsDone
}

func (e *Engine) notice(err error) {
	if e.onNotice != nil {
		e.onNotice(err)
	}
}
