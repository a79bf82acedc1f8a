package realtime

import (
	"context"
	"errors"
	"expvar"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/cache"
)

var (
	metricChannels      = expvar.NewInt("realtime_channels")
	metricInvalidations = expvar.NewInt("realtime_invalidations")
	metricReconnects    = expvar.NewInt("realtime_reconnects")
)

// Status is the state of the channel a subscription is attached to.
type Status string

const (
	StatusSubscribed   Status = "subscribed"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// ErrClosed is returned when subscribing on a closed Syncer.
var ErrClosed = errors.New("realtime: syncer closed")

// ReconnectPolicy bounds how a lost channel is re-established.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialInterval: 500 * time.Millisecond, MaxInterval: 30 * time.Second, MaxTries: 10}
}

// Options customise a single subscription.
type Options struct {
	// Invalidator overrides the Syncer's default target, e.g. a remote client cache.
	Invalidator cache.Invalidator
	// OnStatus is called when the underlying channel changes state.
	OnStatus func(Status, error)
}

type channelID struct {
	resource string
	event    EventType
	filter   string
}

// Syncer keeps one live feed channel per (resource, event, filter) and
// invalidates each subscriber's cache key when a matching change arrives.
type Syncer struct {
	feed   Feed
	inv    cache.Invalidator
	logger *logrus.Logger
	policy ReconnectPolicy

	mu       sync.Mutex
	channels map[channelID]*channel
	closed   bool
	wg       sync.WaitGroup
}

func NewSyncer(feed Feed, inv cache.Invalidator, logger *logrus.Logger, policy ReconnectPolicy) *Syncer {
	return &Syncer{
		feed:     feed,
		inv:      inv,
		logger:   logger,
		policy:   policy,
		channels: make(map[channelID]*channel),
	}
}

// Subscription is one consumer's interest in a channel.
type Subscription struct {
	desc     Descriptor
	inv      cache.Invalidator
	onStatus func(Status, error)
	ch       *channel

	mu     sync.Mutex
	closed bool
	failed bool
}

// Descriptor returns what the subscription watches.
func (s *Subscription) Descriptor() Descriptor { return s.desc }

// Failed reports whether the channel behind the subscription gave up
// reconnecting. A failed subscription never invalidates again; subscribe anew.
func (s *Subscription) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Close detaches the subscription. Once Close returns no further
// invalidation is performed for it, even for notifications already queued.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.ch.syncer.detach(s)
}

func (s *Subscription) invalidate(ctx context.Context, logger *logrus.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.inv.Invalidate(ctx, s.desc.Key); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("key", s.desc.Key.String()).Warn("realtime invalidate failed")
		}
		return
	}
	metricInvalidations.Add(1)
}

func (s *Subscription) status(st Status, err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed && s.onStatus != nil {
		s.onStatus(st, err)
	}
}

type channel struct {
	id     channelID
	desc   Descriptor
	syncer *Syncer
	cancel context.CancelFunc

	// ready is closed once Listen returned; err is its failure, if any.
	ready chan struct{}
	err   error

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func (c *channel) snapshot() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

// Subscribe attaches a subscription for desc, establishing the feed channel
// if no other subscriber shares it. Establishment errors are returned.
// Concurrent subscribers to a channel being established wait for it instead
// of listening twice; the Syncer lock is not held during Listen.
func (s *Syncer) Subscribe(ctx context.Context, desc Descriptor, opts Options) (*Subscription, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	desc.Event = desc.event()
	inv := opts.Invalidator
	if inv == nil {
		inv = s.inv
	}
	sub := &Subscription{desc: desc, inv: inv, onStatus: opts.OnStatus}
	id := channelID{resource: desc.Resource, event: desc.Event, filter: desc.Filter}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		ch, ok := s.channels[id]
		if !ok {
			nc, err := s.establish(ctx, id, desc)
			if err != nil {
				return nil, err
			}
			// establish returns with s.mu held on success
			s.attach(nc, sub)
			s.mu.Unlock()
			sub.status(StatusSubscribed, nil)
			return sub, nil
		}
		s.mu.Unlock()

		select {
		case <-ch.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if ch.err != nil {
			return nil, ch.err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if s.channels[id] != ch {
			// torn down while we waited
			s.mu.Unlock()
			continue
		}
		s.attach(ch, sub)
		s.mu.Unlock()
		sub.status(StatusSubscribed, nil)
		return sub, nil
	}
}

// establish must be called with s.mu held. It publishes a placeholder,
// listens without the lock and returns with s.mu held on success, or
// released on error.
func (s *Syncer) establish(ctx context.Context, id channelID, desc Descriptor) (*channel, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		id:     id,
		desc:   desc,
		syncer: s,
		cancel: cancel,
		ready:  make(chan struct{}),
		subs:   make(map[*Subscription]struct{}),
	}
	s.channels[id] = ch
	metricChannels.Add(1)
	s.mu.Unlock()

	events, stop, err := s.feed.Listen(ctx, desc.Resource)

	s.mu.Lock()
	if err == nil && s.closed {
		stop()
		err = ErrClosed
	}
	if err != nil {
		if s.channels[id] == ch {
			delete(s.channels, id)
			metricChannels.Add(-1)
		}
		ch.err = err
		close(ch.ready)
		s.mu.Unlock()
		cancel()
		if s.logger != nil && !errors.Is(err, ErrClosed) {
			s.logger.WithError(err).WithField("resource", desc.Resource).WithField("filter", desc.Filter).Error("realtime channel failed")
		}
		return nil, err
	}
	s.wg.Add(1)
	go s.run(runCtx, ch, events, stop)
	close(ch.ready)
	return ch, nil
}

func (s *Syncer) attach(ch *channel, sub *Subscription) {
	sub.ch = ch
	ch.mu.Lock()
	ch.subs[sub] = struct{}{}
	ch.mu.Unlock()
}

func (s *Syncer) detach(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := sub.ch
	ch.mu.Lock()
	delete(ch.subs, sub)
	empty := len(ch.subs) == 0
	ch.mu.Unlock()
	if empty && s.channels[ch.id] == ch {
		delete(s.channels, ch.id)
		metricChannels.Add(-1)
		ch.cancel()
	}
}

func (s *Syncer) run(ctx context.Context, ch *channel, events <-chan ChangeEvent, stop func()) {
	defer s.wg.Done()
	defer func() { stop() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if ok {
				if ch.desc.Matches(ev) {
					for _, sub := range ch.snapshot() {
						sub.invalidate(ctx, s.logger)
					}
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			stop()
			var err error
			events, stop, err = s.reconnect(ctx, ch)
			if err != nil {
				if ctx.Err() == nil {
					s.fail(ch, err)
				}
				return
			}
		}
	}
}

type listenResult struct {
	events <-chan ChangeEvent
	stop   func()
}

func (s *Syncer) reconnect(ctx context.Context, ch *channel) (<-chan ChangeEvent, func(), error) {
	for _, sub := range ch.snapshot() {
		sub.status(StatusReconnecting, nil)
	}
	if s.logger != nil {
		s.logger.WithField("resource", ch.id.resource).WithField("filter", ch.id.filter).Warn("realtime channel lost, reconnecting")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if s.policy.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(s.policy.MaxTries))
	}
	res, err := backoff.Retry(ctx, func() (listenResult, error) {
		metricReconnects.Add(1)
		events, stop, err := s.feed.Listen(ctx, ch.id.resource)
		if err != nil {
			return listenResult{}, err
		}
		return listenResult{events: events, stop: stop}, nil
	}, opts...)
	if err != nil {
		return nil, func() {}, err
	}
	// changes may have been missed while the channel was down
	for _, sub := range ch.snapshot() {
		sub.invalidate(ctx, s.logger)
		sub.status(StatusSubscribed, nil)
	}
	return res.events, res.stop, nil
}

func (s *Syncer) fail(ch *channel, err error) {
	if s.logger != nil {
		s.logger.WithError(err).WithField("resource", ch.id.resource).Error("realtime channel gave up reconnecting")
	}
	s.mu.Lock()
	if s.channels[ch.id] == ch {
		delete(s.channels, ch.id)
		metricChannels.Add(-1)
	}
	s.mu.Unlock()
	for _, sub := range ch.snapshot() {
		sub.mu.Lock()
		sub.failed = true
		sub.mu.Unlock()
		sub.status(StatusFailed, err)
	}
}

// ChannelCount reports the number of live feed channels.
func (s *Syncer) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Close tears down every channel and waits for their loops to exit.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	for id, ch := range s.channels {
		ch.cancel()
		delete(s.channels, id)
		metricChannels.Add(-1)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
