package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/homekeep/internal/cache"
)

type fakeFeed struct {
	mu      sync.Mutex
	listens int
	failN   int
	err     error
	open    map[string][]chan ChangeEvent

	// when gate is set Listen reports on entered and waits for gate to close
	gate    chan struct{}
	entered chan string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{open: make(map[string][]chan ChangeEvent)}
}

func (f *fakeFeed) Listen(_ context.Context, resource string) (<-chan ChangeEvent, func(), error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- resource
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	if f.failN > 0 {
		f.failN--
		return nil, nil, f.err
	}
	ch := make(chan ChangeEvent, 16)
	f.open[resource] = append(f.open[resource], ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.drop(resource, ch)
		})
	}, nil
}

// drop must be called with f.mu held.
func (f *fakeFeed) drop(resource string, ch chan ChangeEvent) {
	list := f.open[resource]
	for i, c := range list {
		if c == ch {
			close(c)
			f.open[resource] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (f *fakeFeed) emit(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.open[ev.Resource] {
		c <- ev
	}
}

// lose closes every open channel for resource as a dropped connection would.
func (f *fakeFeed) lose(resource string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.open[resource] {
		close(c)
	}
	delete(f.open, resource)
}

func (f *fakeFeed) openCount(resource string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open[resource])
}

func (f *fakeFeed) listenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, prefix cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, prefix.String())
	return nil
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func testPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxTries: 3}
}

func tasksDesc(household string) Descriptor {
	return Descriptor{
		Resource: ResourceTasks,
		Event:    EventAll,
		Filter:   "household_id=eq." + household,
		Key:      cache.NewKey("tasks", household),
	}
}

func TestSubscribeSharesOneChannelPerDescriptor(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()
	ctx := context.Background()

	a, err := s.Subscribe(ctx, tasksDesc("h1"), Options{})
	require.NoError(t, err)
	b, err := s.Subscribe(ctx, tasksDesc("h1"), Options{})
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, tasksDesc("h2"), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, s.ChannelCount())
	assert.Equal(t, 2, feed.listenCount())

	a.Close()
	assert.Equal(t, 2, s.ChannelCount())
	b.Close()
	assert.Equal(t, 1, s.ChannelCount())
}

func TestMatchingEventInvalidatesKey(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()

	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{})
	require.NoError(t, err)

	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventUpdate, Record: map[string]any{"household_id": "h2"}})
	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h1"}})

	require.Eventually(t, func() bool { return inv.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "tasks/h1", inv.keys[0])
}

func TestDeleteEventMatchesOldRecord(t *testing.T) {
	d := tasksDesc("h1")
	assert.True(t, d.Matches(ChangeEvent{Resource: ResourceTasks, Type: EventDelete, OldRecord: map[string]any{"household_id": "h1"}}))
	assert.False(t, d.Matches(ChangeEvent{Resource: ResourceMessages, Type: EventDelete, OldRecord: map[string]any{"household_id": "h1"}}))

	d.Event = EventInsert
	assert.False(t, d.Matches(ChangeEvent{Resource: ResourceTasks, Type: EventUpdate, Record: map[string]any{"household_id": "h1"}}))
}

func TestNoInvalidationAfterClose(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()

	sub, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{})
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	assert.Equal(t, 0, s.ChannelCount())
	require.Eventually(t, func() bool { return feed.openCount(ResourceTasks) == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, inv.count())
}

func TestClosedSubscriptionIgnoresQueuedEvent(t *testing.T) {
	inv := &recordingInvalidator{}
	sub := &Subscription{desc: tasksDesc("h1"), inv: inv}
	sub.closed = true
	sub.invalidate(context.Background(), nil)
	assert.Zero(t, inv.count())
}

func TestSubscribeSurfacesEstablishmentError(t *testing.T) {
	feed := newFakeFeed()
	feed.failN = 1
	feed.err = errors.New("connection refused")
	s := NewSyncer(feed, &recordingInvalidator{}, nil, testPolicy())
	defer s.Close()

	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{})
	require.Error(t, err)
	assert.Equal(t, 0, s.ChannelCount())

	_, err = s.Subscribe(context.Background(), Descriptor{Resource: ResourceTasks, Filter: "household_id=gt.1"}, Options{})
	assert.Error(t, err)
}

func TestReconnectInvalidatesAndReportsStatus(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()

	var mu sync.Mutex
	var seen []Status
	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{OnStatus: func(st Status, _ error) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}})
	require.NoError(t, err)

	feed.lose(ResourceTasks)

	require.Eventually(t, func() bool { return inv.count() == 1 && feed.openCount(ResourceTasks) == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []Status{StatusSubscribed, StatusReconnecting, StatusSubscribed}, seen)
	mu.Unlock()

	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h1"}})
	require.Eventually(t, func() bool { return inv.count() == 2 }, time.Second, time.Millisecond)
}

func TestReconnectGivesUp(t *testing.T) {
	feed := newFakeFeed()
	s := NewSyncer(feed, &recordingInvalidator{}, nil, testPolicy())
	defer s.Close()

	failed := make(chan error, 1)
	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{OnStatus: func(st Status, err error) {
		if st == StatusFailed {
			failed <- err
		}
	}})
	require.NoError(t, err)

	feed.mu.Lock()
	feed.failN = 10
	feed.err = errors.New("down")
	feed.mu.Unlock()
	feed.lose(ResourceTasks)

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("channel never reported failure")
	}
	assert.Equal(t, 0, s.ChannelCount())
}

func TestSubscriptionInvalidatorOverride(t *testing.T) {
	feed := newFakeFeed()
	shared := &recordingInvalidator{}
	own := &recordingInvalidator{}
	s := NewSyncer(feed, shared, nil, testPolicy())
	defer s.Close()

	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{Invalidator: own})
	require.NoError(t, err)
	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h1"}})

	require.Eventually(t, func() bool { return own.count() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, shared.count())
}

func TestSubscribeAfterSyncerClose(t *testing.T) {
	s := NewSyncer(newFakeFeed(), &recordingInvalidator{}, nil, testPolicy())
	s.Close()
	_, err := s.Subscribe(context.Background(), tasksDesc("h1"), Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBindingReplacesSubscriptionOnChange(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()
	ctx := context.Background()

	b := NewBinding(s, Options{})
	require.NoError(t, b.Set(ctx, tasksDesc("h1"), true))
	require.NoError(t, b.Set(ctx, tasksDesc("h1"), true))
	assert.Equal(t, 1, feed.listenCount())

	require.NoError(t, b.Set(ctx, tasksDesc("h2"), true))
	assert.Equal(t, 1, s.ChannelCount())
	assert.Equal(t, 2, feed.listenCount())

	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h1"}})
	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h2"}})
	require.Eventually(t, func() bool { return inv.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "tasks/h2", inv.keys[0])

	require.NoError(t, b.Set(ctx, tasksDesc("h2"), false))
	assert.False(t, b.Active())
	assert.Equal(t, 0, s.ChannelCount())

	require.NoError(t, b.Set(ctx, tasksDesc("h2"), true))
	assert.True(t, b.Active())
	b.Close()
	assert.Equal(t, 0, s.ChannelCount())
}

func TestBindingResubscribesAfterChannelFailed(t *testing.T) {
	feed := newFakeFeed()
	inv := &recordingInvalidator{}
	s := NewSyncer(feed, inv, nil, testPolicy())
	defer s.Close()
	ctx := context.Background()

	b := NewBinding(s, Options{})
	require.NoError(t, b.Set(ctx, tasksDesc("h1"), true))

	feed.mu.Lock()
	feed.failN = 3
	feed.err = errors.New("down")
	feed.mu.Unlock()
	feed.lose(ResourceTasks)

	require.Eventually(t, func() bool { return !b.Active() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, s.ChannelCount())
	assert.Zero(t, inv.count())

	require.NoError(t, b.Set(ctx, tasksDesc("h1"), true))
	assert.True(t, b.Active())
	assert.Equal(t, 1, s.ChannelCount())
	// the gap is covered by one invalidation
	assert.Equal(t, 1, inv.count())

	feed.emit(ChangeEvent{Resource: ResourceTasks, Type: EventInsert, Record: map[string]any{"household_id": "h1"}})
	require.Eventually(t, func() bool { return inv.count() == 2 }, time.Second, time.Millisecond)
}

type subscribeResult struct {
	sub *Subscription
	err error
}

func subscribeAsync(s *Syncer, desc Descriptor) <-chan subscribeResult {
	out := make(chan subscribeResult, 1)
	go func() {
		sub, err := s.Subscribe(context.Background(), desc, Options{})
		out <- subscribeResult{sub: sub, err: err}
	}()
	return out
}

func TestSubscribeListensOutsideSyncerLock(t *testing.T) {
	feed := newFakeFeed()
	feed.gate = make(chan struct{})
	feed.entered = make(chan string, 4)
	s := NewSyncer(feed, &recordingInvalidator{}, nil, testPolicy())
	defer s.Close()

	first := subscribeAsync(s, tasksDesc("h1"))
	<-feed.entered

	counted := make(chan int, 1)
	go func() { counted <- s.ChannelCount() }()
	select {
	case n := <-counted:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("ChannelCount blocked behind a pending Listen")
	}

	second := subscribeAsync(s, tasksDesc("h1"))
	require.Never(t, func() bool { return len(second) > 0 }, 50*time.Millisecond, time.Millisecond)

	close(feed.gate)
	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, 1, feed.listenCount())
	assert.Equal(t, 1, s.ChannelCount())

	r1.sub.Close()
	assert.Equal(t, 1, s.ChannelCount())
	r2.sub.Close()
	assert.Equal(t, 0, s.ChannelCount())
}

func TestSubscribeWaitersShareEstablishmentError(t *testing.T) {
	feed := newFakeFeed()
	feed.gate = make(chan struct{})
	feed.entered = make(chan string, 4)
	feed.failN = 1
	feed.err = errors.New("refused")
	s := NewSyncer(feed, &recordingInvalidator{}, nil, testPolicy())
	defer s.Close()

	first := subscribeAsync(s, tasksDesc("h1"))
	<-feed.entered
	second := subscribeAsync(s, tasksDesc("h1"))
	require.Never(t, func() bool { return len(second) > 0 }, 50*time.Millisecond, time.Millisecond)

	close(feed.gate)
	assert.EqualError(t, (<-first).err, "refused")
	assert.EqualError(t, (<-second).err, "refused")
	assert.Equal(t, 0, s.ChannelCount())
}

func TestCloseDuringPendingListen(t *testing.T) {
	feed := newFakeFeed()
	feed.gate = make(chan struct{})
	feed.entered = make(chan string, 4)
	s := NewSyncer(feed, &recordingInvalidator{}, nil, testPolicy())

	pending := subscribeAsync(s, tasksDesc("h1"))
	<-feed.entered
	s.Close()
	close(feed.gate)

	assert.ErrorIs(t, (<-pending).err, ErrClosed)
	assert.Equal(t, 0, feed.openCount(ResourceTasks))
}
