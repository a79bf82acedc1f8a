package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSFeed receives change events published on "<prefix>.<resource>".
type NATSFeed struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Logger
}

// NewNATSFeed connects with unlimited reconnects. Extra options are appended
// to the defaults.
func NewNATSFeed(url, prefix string, logger *logrus.Logger, opts ...nats.Option) (*NATSFeed, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSFeed{conn: nc, prefix: prefix, logger: logger}, nil
}

func subject(prefix, resource string) string { return prefix + "." + resource }

func (f *NATSFeed) Listen(_ context.Context, resource string) (<-chan ChangeEvent, func(), error) {
	ch := make(chan ChangeEvent, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := f.conn.Subscribe(subject(f.prefix, resource), func(msg *nats.Msg) {
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			if f.logger != nil {
				f.logger.WithError(err).Warn("bad change event on nats")
			}
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", resource, err)
	}
	// make sure the server knows about the subscription before returning
	if err := f.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (f *NATSFeed) Close() error {
	f.conn.Close()
	return nil
}

// NATSPublisher publishes change events for NATSFeed consumers.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev ChangeEvent) error {
	if ev.CommitTime.IsZero() {
		ev.CommitTime = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(subject(p.prefix, ev.Resource), data)
}

// Flush waits until published events reached the server.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

var (
	_ Feed      = (*NATSFeed)(nil)
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
