package application

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/realtime"
)

// serverWatches maps each resource to the cache prefixes its changes touch.
// They are deliberately coarse: another instance's write only tells us the
// table, so every cached view derived from it goes stale.
var serverWatches = []realtime.Descriptor{
	{Resource: realtime.ResourceTasks, Key: cache.NewKey("tasks")},
	{Resource: realtime.ResourceMessages, Key: cache.NewKey("messages")},
	{Resource: realtime.ResourceHouseholds, Key: cache.NewKey("households")},
	{Resource: realtime.ResourceHouseholds, Key: cache.NewKey("household")},
	{Resource: realtime.ResourceMembers, Key: cache.NewKey("households")},
	{Resource: realtime.ResourceMembers, Key: cache.NewKey("household")},
	{Resource: realtime.ResourceAwards, Key: cache.NewKey("households")},
}

// Watches holds the server-side subscriptions started by WatchChanges.
// A watch whose channel gives up reconnecting is re-established in the
// background, retrying at most every policy.MaxInterval until Close.
type Watches struct {
	policy   realtime.ReconnectPolicy
	bindings []*realtime.Binding

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	reviving map[int]bool
}

// WatchChanges keeps the server-side cache coherent with writes made by
// other instances. Close the returned Watches on shutdown.
func WatchChanges(ctx context.Context, s *realtime.Syncer, policy realtime.ReconnectPolicy) (*Watches, error) {
	wctx, cancel := context.WithCancel(context.Background())
	w := &Watches{policy: policy, ctx: wctx, cancel: cancel, reviving: map[int]bool{}}
	for i, d := range serverWatches {
		b := realtime.NewBinding(s, realtime.Options{OnStatus: w.onStatus(i)})
		w.bindings = append(w.bindings, b)
		if err := b.Set(ctx, d, true); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watches) onStatus(i int) func(realtime.Status, error) {
	return func(st realtime.Status, _ error) {
		if st != realtime.StatusFailed {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed || w.reviving[i] {
			return
		}
		w.reviving[i] = true
		w.wg.Add(1)
		go w.revive(i)
	}
}

func (w *Watches) revive(i int) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.reviving, i)
		w.mu.Unlock()
	}()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.policy.InitialInterval
	b.MaxInterval = w.policy.MaxInterval
	_, _ = backoff.Retry(w.ctx, func() (struct{}, error) {
		return struct{}{}, w.bindings[i].Set(w.ctx, serverWatches[i], true)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}

// Active reports how many watches currently hold a live subscription.
func (w *Watches) Active() int {
	n := 0
	for _, b := range w.bindings {
		if b.Active() {
			n++
		}
	}
	return n
}

// Close stops every watch and any pending re-establishment.
func (w *Watches) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()
	w.wg.Wait()
	for _, b := range w.bindings {
		b.Close()
	}
}

// DefaultWatchPolicy retries a failed watch forever, at most a minute apart.
func DefaultWatchPolicy() realtime.ReconnectPolicy {
	return realtime.ReconnectPolicy{InitialInterval: time.Second, MaxInterval: time.Minute}
}
