package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PGFeed listens on a Postgres NOTIFY channel over one dedicated pooled
// connection and fans notifications out by table name.
type PGFeed struct {
	pool    *pgxpool.Pool
	channel string
	logger  *logrus.Logger

	mu        sync.Mutex
	listeners map[string]map[*listener]struct{}
	conn      *pgxpool.Conn
	stop      context.CancelFunc
}

type listener struct {
	ch   chan ChangeEvent
	once sync.Once
}

func (l *listener) close() { l.once.Do(func() { close(l.ch) }) }

func NewPGFeed(pool *pgxpool.Pool, channel string, logger *logrus.Logger) *PGFeed {
	return &PGFeed{
		pool:      pool,
		channel:   channel,
		logger:    logger,
		listeners: make(map[string]map[*listener]struct{}),
	}
}

func (f *PGFeed) Listen(ctx context.Context, resource string) (<-chan ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		if err := f.start(ctx); err != nil {
			return nil, nil, err
		}
	}
	l := &listener{ch: make(chan ChangeEvent, 64)}
	if f.listeners[resource] == nil {
		f.listeners[resource] = make(map[*listener]struct{})
	}
	f.listeners[resource][l] = struct{}{}
	return l.ch, func() { f.remove(resource, l) }, nil
}

// start must be called with f.mu held.
func (f *PGFeed) start(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		conn.Release()
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f.conn = conn
	f.stop = cancel
	go f.pump(runCtx, conn)
	if f.logger != nil {
		f.logger.WithField("channel", f.channel).Info("realtime listener started")
	}
	return nil
}

func (f *PGFeed) pump(ctx context.Context, conn *pgxpool.Conn) {
	defer conn.Release()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			f.mu.Lock()
			if f.conn == conn {
				f.conn, f.stop = nil, nil
				if f.logger != nil {
					f.logger.WithError(err).WithField("channel", f.channel).Warn("realtime listener lost")
				}
				for res, ls := range f.listeners {
					for l := range ls {
						l.close()
					}
					delete(f.listeners, res)
				}
			}
			f.mu.Unlock()
			return
		}
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			if f.logger != nil {
				f.logger.WithError(err).Warn("bad change notification payload")
			}
			continue
		}
		f.dispatch(ev)
	}
}

func (f *PGFeed) dispatch(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for l := range f.listeners[ev.Resource] {
		select {
		case l.ch <- ev:
		default:
			if f.logger != nil {
				f.logger.WithField("table", ev.Resource).Warn("realtime listener full, dropping event")
			}
		}
	}
}

func (f *PGFeed) remove(resource string, l *listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ls, ok := f.listeners[resource]; ok {
		if _, ok := ls[l]; ok {
			delete(ls, l)
			l.close()
		}
		if len(ls) == 0 {
			delete(f.listeners, resource)
		}
	}
	if len(f.listeners) == 0 && f.stop != nil {
		f.stop()
		f.conn, f.stop = nil, nil
	}
}

// Close stops the listener and closes every open channel.
func (f *PGFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for res, ls := range f.listeners {
		for l := range ls {
			l.close()
		}
		delete(f.listeners, res)
	}
	if f.stop != nil {
		f.stop()
		f.conn, f.stop = nil, nil
	}
}

var _ Feed = (*PGFeed)(nil)
