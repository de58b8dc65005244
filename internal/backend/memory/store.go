package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"tasksync/internal/service"
)

// ErrNotFound is returned by SetDone for an unknown item.
var ErrNotFound = errors.New("not found")

// Store is an in-memory collection store.
type Store struct {
	mu          sync.Mutex
	collections map[string][]service.Record
	listeners   map[string]map[int]func([]service.Record, error)
	nextID      int
	writes      int

	// SetDoneErr fails every SetDone call.
	SetDoneErr error

	// DropWrites makes SetDone succeed without changing anything, as if the
	// write was lost on the way.
	DropWrites bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string][]service.Record),
		listeners:   make(map[string]map[int]func([]service.Record, error)),
	}
}

// Put inserts or replaces an item and publishes the collection.
func (s *Store) Put(collection, id, title string, done bool) {
	s.mu.Lock()
	rec := service.Record{service.FieldID: id, service.FieldTitle: title, service.FieldIsDone: done}
	recs := s.collections[collection]
	replaced := false
	for i, r := range recs {
		if r[service.FieldID] == id {
			recs[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	s.collections[collection] = recs
	s.mu.Unlock()

	s.publishCurrent(collection)
}

// Add inserts an item under a fresh id and returns the id.
func (s *Store) Add(collection, title string) string {
	id := uuid.NewString()
	s.Put(collection, id, title, false)
	return id
}

// Delete removes an item and publishes the collection.
func (s *Store) Delete(collection, id string) {
	s.mu.Lock()
	recs := s.collections[collection]
	for i, r := range recs {
		if r[service.FieldID] == id {
			s.collections[collection] = append(recs[:i:i], recs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publishCurrent(collection)
}

// SetRemote changes an item's done flag on the server side and publishes.
func (s *Store) SetRemote(collection, id string, done bool) error {
	if err := s.apply(collection, id, done); err != nil {
		return err
	}
	s.publishCurrent(collection)
	return nil
}

// Publish pushes records to subscribers without changing stored state.
// Used to script stale or malformed snapshots.
func (s *Store) Publish(collection string, records []service.Record) {
	s.broadcast(collection, records, nil)
}

// Drop fails every subscription of collection with err and removes them.
func (s *Store) Drop(collection string, err error) {
	s.mu.Lock()
	fns := s.snapshotListeners(collection)
	delete(s.listeners, collection)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(nil, err)
	}
}

// Snapshot returns a copy of the stored records of collection.
func (s *Store) Snapshot(collection string) []service.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.collections[collection])
}

// Listeners returns the number of live subscriptions to collection.
func (s *Store) Listeners(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[collection])
}

// Writes returns how many SetDone calls were made.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// SubscribeSnapshot implements service.Store. The current snapshot is
// delivered before it returns.
func (s *Store) SubscribeSnapshot(collection string, fn func([]service.Record, error)) func() {
	s.mu.Lock()
	if s.listeners[collection] == nil {
		s.listeners[collection] = make(map[int]func([]service.Record, error))
	}
	id := s.nextID
	s.nextID++
	s.listeners[collection][id] = fn
	current := copyRecords(s.collections[collection])
	s.mu.Unlock()

	fn(current, nil)

	return func() {
		s.mu.Lock()
		delete(s.listeners[collection], id)
		s.mu.Unlock()
	}
}

// SetDone implements service.Writer.
func (s *Store) SetDone(ctx context.Context, collection, itemID string, done bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.writes++
	failErr, drop := s.SetDoneErr, s.DropWrites
	s.mu.Unlock()

	if failErr != nil {
		return failErr
	}
	if drop {
		return nil
	}
	return s.SetRemote(collection, itemID, done)
}

func (s *Store) apply(collection, id string, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.collections[collection] {
		if r[service.FieldID] == id {
			r[service.FieldIsDone] = done
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}

func (s *Store) publishCurrent(collection string) {
	s.broadcast(collection, s.Snapshot(collection), nil)
}

func (s *Store) broadcast(collection string, records []service.Record, err error) {
	s.mu.Lock()
	fns := s.snapshotListeners(collection)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(copyRecords(records), err)
	}
}

// Caller holds mu.
func (s *Store) snapshotListeners(collection string) []func([]service.Record, error) {
	fns := make([]func([]service.Record, error), 0, len(s.listeners[collection]))
	for _, fn := range s.listeners[collection] {
		fns = append(fns, fn)
	}
	return fns
}

func copyRecords(recs []service.Record) []service.Record {
	if recs == nil {
		return []service.Record{}
	}
	out := make([]service.Record, len(recs))
	for i, r := range recs {
		if r != nil {
			out[i] = maps.Clone(r)
		}
	}
	return out
}
