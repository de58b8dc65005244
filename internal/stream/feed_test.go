package stream_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/stream"
)

// upstream records subscriptions and lets tests push into the latest one.
type upstream struct {
	mu      sync.Mutex
	opens   int
	live    int
	deliver []func(int)
	fail    []func(error)

	// onOpen runs inside Open with the new subscription's callbacks.
	onOpen func(deliver func(int), fail func(error))
}

func (u *upstream) open(deliver func(int), fail func(error)) func() {
	u.mu.Lock()
	u.opens++
	u.live++
	u.deliver = append(u.deliver, deliver)
	u.fail = append(u.fail, fail)
	hook := u.onOpen
	u.mu.Unlock()

	if hook != nil {
		hook(deliver, fail)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			u.mu.Lock()
			u.live--
			u.mu.Unlock()
		})
	}
}

func (u *upstream) sub(i int) (func(int), func(error)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.deliver[i], u.fail[i]
}

type recorder struct {
	mu     sync.Mutex
	events []int
	drops  []error
}

func (r *recorder) event(v int) {
	r.mu.Lock()
	r.events = append(r.events, v)
	r.mu.Unlock()
}

func (r *recorder) drop(err error) {
	r.mu.Lock()
	r.drops = append(r.drops, err)
	r.mu.Unlock()
}

func newFeed(u *upstream, r *recorder, sched *stream.Manual) *stream.Feed[int] {
	return stream.New(stream.Options[int]{
		Name:       "test",
		Open:       u.open,
		OnEvent:    r.event,
		OnDrop:     r.drop,
		RetryDelay: time.Second,
		Schedule:   sched.Schedule,
	})
}

func TestFeed_DeliversFromLiveSubscription(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)

	require.NoError(t, f.Start())
	assert.True(t, f.Live())

	deliver, _ := u.sub(0)
	deliver(1)
	deliver(2)
	assert.Equal(t, []int{1, 2}, r.events)
}

func TestFeed_StartTwice(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)

	require.NoError(t, f.Start())
	assert.ErrorIs(t, f.Start(), stream.ErrStarted)
	assert.Equal(t, 1, u.opens)
}

func TestFeed_StartAfterStop(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)

	f.Stop()
	assert.ErrorIs(t, f.Start(), stream.ErrStopped)
	assert.Zero(t, u.opens)
}

func TestFeed_DropNoticeAndResubscribe(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)
	require.NoError(t, f.Start())

	_, fail := u.sub(0)
	fail(errors.New("socket closed"))

	require.Len(t, r.drops, 1)
	var dropped *stream.SyncDroppedError
	require.ErrorAs(t, r.drops[0], &dropped)
	assert.Equal(t, "test", dropped.Stream)
	assert.Equal(t, "test stream dropped: socket closed", dropped.Error())
	assert.False(t, f.Live())
	assert.Zero(t, u.live, "failed subscription must be released")
	assert.Equal(t, 1, sched.Pending())

	assert.Equal(t, 1, sched.Fire())
	assert.Equal(t, 2, u.opens)
	assert.True(t, f.Live())

	deliver, _ := u.sub(1)
	deliver(7)
	assert.Equal(t, []int{7}, r.events)
}

func TestFeed_StaleDeliveriesDiscarded(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)
	require.NoError(t, f.Start())

	oldDeliver, oldFail := u.sub(0)
	oldFail(errors.New("reset"))
	sched.Fire()

	oldDeliver(1)
	oldFail(errors.New("late"))
	assert.Empty(t, r.events)
	assert.Len(t, r.drops, 1)
	assert.Zero(t, sched.Pending())
}

func TestFeed_BackoffDoublesAndResets(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)
	require.NoError(t, f.Start())

	for i := 0; i < 3; i++ {
		_, fail := u.sub(i)
		fail(errors.New("down"))
		sched.Fire()
	}

	// A delivery on the fourth subscription resets the delay.
	deliver, fail := u.sub(3)
	deliver(1)
	fail(errors.New("down"))

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, time.Second,
	}, sched.Delays())
}

func TestFeed_BackoffCapped(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := stream.New(stream.Options[int]{
		Name:          "test",
		Open:          u.open,
		OnEvent:       r.event,
		RetryDelay:    time.Second,
		MaxRetryDelay: 3 * time.Second,
		Schedule:      sched.Schedule,
	})
	require.NoError(t, f.Start())

	for i := 0; i < 4; i++ {
		_, fail := u.sub(i)
		fail(errors.New("down"))
		sched.Fire()
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second,
	}, sched.Delays())
}

func TestFeed_StopCancelsRetry(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)
	require.NoError(t, f.Start())

	_, fail := u.sub(0)
	fail(errors.New("down"))
	require.Equal(t, 1, sched.Pending())

	f.Stop()
	assert.Zero(t, sched.Pending())
	assert.Zero(t, sched.Fire())
	assert.Equal(t, 1, u.opens)
}

func TestFeed_StopReleasesSubscription(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	f := newFeed(u, r, sched)
	require.NoError(t, f.Start())
	deliver, _ := u.sub(0)

	f.Stop()
	f.Stop()
	deliver(1)

	assert.Zero(t, u.live)
	assert.False(t, f.Live())
	assert.Empty(t, r.events)
}

func TestFeed_SynchronousDeliveryInsideOpen(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	u.onOpen = func(deliver func(int), fail func(error)) { deliver(42) }
	f := newFeed(u, r, sched)

	require.NoError(t, f.Start())
	assert.Equal(t, []int{42}, r.events)
	assert.True(t, f.Live())
}

func TestFeed_SynchronousFailureInsideOpen(t *testing.T) {
	u, r, sched := &upstream{}, &recorder{}, &stream.Manual{}
	u.onOpen = func(deliver func(int), fail func(error)) { fail(errors.New("refused")) }
	f := newFeed(u, r, sched)

	require.NoError(t, f.Start())
	assert.False(t, f.Live())
	assert.Zero(t, u.live, "subscription that failed during open must be released")
	assert.Len(t, r.drops, 1)
	assert.Equal(t, 1, sched.Pending())
}

func TestAfterFunc_Cancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	cancel := stream.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	cancel()

	stream.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}
