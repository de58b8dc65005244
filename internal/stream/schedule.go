package stream

import (
	"sync"
	"time"
)

// Scheduler runs f once after d unless the returned cancel is called first.
// It must not call f synchronously.
type Scheduler func(d time.Duration, f func()) (cancel func())

// AfterFunc schedules on a real timer.
func AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Manual is a Scheduler driven by hand: nothing runs until Fire.
// It records the requested delays.
type Manual struct {
	mu      sync.Mutex
	pending []*manualTask
	delays  []time.Duration
}

type manualTask struct {
	f         func()
	cancelled bool
}

// Schedule implements Scheduler.
func (m *Manual) Schedule(d time.Duration, f func()) func() {
	task := &manualTask{f: f}
	m.mu.Lock()
	m.pending = append(m.pending, task)
	m.delays = append(m.delays, d)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		task.cancelled = true
		m.mu.Unlock()
	}
}

// Fire runs every pending, uncancelled task in scheduling order and returns
// how many ran. Tasks scheduled while firing wait for the next Fire.
func (m *Manual) Fire() int {
	m.mu.Lock()
	tasks := m.pending
	m.pending = nil
	m.mu.Unlock()

	n := 0
	for _, task := range tasks {
		m.mu.Lock()
		cancelled := task.cancelled
		m.mu.Unlock()
		if cancelled {
			continue
		}
		task.f()
		n++
	}
	return n
}

// Pending returns how many uncancelled tasks wait for Fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.pending {
		if !task.cancelled {
			n++
		}
	}
	return n
}

// Delays returns every delay requested so far.
func (m *Manual) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}
