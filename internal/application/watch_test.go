package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/realtime"
)

type chanFeed struct {
	mu      sync.Mutex
	down    bool
	streams map[string]chan realtime.ChangeEvent
}

func (f *chanFeed) Listen(_ context.Context, resource string) (<-chan realtime.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, nil, errors.New("feed unavailable")
	}
	ch := make(chan realtime.ChangeEvent, 4)
	f.streams[resource] = ch
	return ch, func() {}, nil
}

func (f *chanFeed) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// drop closes the stream for resource as a lost connection would.
func (f *chanFeed) drop(resource string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.streams[resource]; ok {
		close(ch)
		delete(f.streams, resource)
	}
}

func (f *chanFeed) emit(ev realtime.ChangeEvent) {
	f.mu.Lock()
	ch := f.streams[ev.Resource]
	f.mu.Unlock()
	ch <- ev
}

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) Invalidate(_ context.Context, k cache.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, k.String())
	return nil
}

func (r *keyRecorder) countOf(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.keys {
		if k == key {
			n++
		}
	}
	return n
}

func (r *keyRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.keys...)
	sort.Strings(out)
	return out
}

func TestWatchChangesInvalidatesCoarsePrefixes(t *testing.T) {
	feed := &chanFeed{streams: map[string]chan realtime.ChangeEvent{}}
	rec := &keyRecorder{}
	s := realtime.NewSyncer(feed, rec, nil, realtime.DefaultReconnectPolicy())
	defer s.Close()

	w, err := WatchChanges(context.Background(), s, fastPolicy())
	require.NoError(t, err)
	assert.Equal(t, len(serverWatches), w.Active())
	// one channel per table
	assert.Equal(t, 5, s.ChannelCount())

	feed.emit(realtime.ChangeEvent{Resource: realtime.ResourceMembers, Type: realtime.EventInsert, Record: map[string]any{"user_id": "u1"}})
	want := []string{cache.NewKey("household").String(), cache.NewKey("households").String()}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, rec.snapshot()) }, time.Second, 5*time.Millisecond)

	w.Close()
	assert.Equal(t, 0, s.ChannelCount())
}

func fastPolicy() realtime.ReconnectPolicy {
	return realtime.ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxTries: 2}
}

func TestWatchChangesRevivesFailedChannel(t *testing.T) {
	feed := &chanFeed{streams: map[string]chan realtime.ChangeEvent{}}
	rec := &keyRecorder{}
	s := realtime.NewSyncer(feed, rec, nil, fastPolicy())
	defer s.Close()

	w, err := WatchChanges(context.Background(), s, fastPolicy())
	require.NoError(t, err)
	defer w.Close()

	feed.setDown(true)
	feed.drop(realtime.ResourceTasks)
	require.Eventually(t, func() bool { return w.Active() == len(serverWatches)-1 }, time.Second, time.Millisecond)

	feed.setDown(false)
	require.Eventually(t, func() bool {
		return w.Active() == len(serverWatches) && s.ChannelCount() == 5
	}, time.Second, time.Millisecond)

	tasks := cache.NewKey("tasks").String()
	// the outage itself invalidates once
	require.Eventually(t, func() bool { return rec.countOf(tasks) == 1 }, time.Second, time.Millisecond)

	feed.emit(realtime.ChangeEvent{Resource: realtime.ResourceTasks, Type: realtime.EventUpdate, Record: map[string]any{"household_id": "h1"}})
	require.Eventually(t, func() bool { return rec.countOf(tasks) == 2 }, time.Second, time.Millisecond)
}
