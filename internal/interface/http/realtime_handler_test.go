package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/gate"
	"github.com/oksasatya/homekeep/internal/realtime"
)

type memFeed struct {
	mu      sync.Mutex
	streams map[string]map[chan realtime.ChangeEvent]struct{}
}

func newMemFeed() *memFeed {
	return &memFeed{streams: map[string]map[chan realtime.ChangeEvent]struct{}{}}
}

func (f *memFeed) Listen(_ context.Context, resource string) (<-chan realtime.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan realtime.ChangeEvent, 16)
	if f.streams[resource] == nil {
		f.streams[resource] = map[chan realtime.ChangeEvent]struct{}{}
	}
	f.streams[resource][ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.streams[resource], ch)
			close(ch)
		})
	}, nil
}

func (f *memFeed) emit(ev realtime.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.streams[ev.Resource] {
		ch <- ev
	}
}

type stubGateSource struct {
	mu        sync.Mutex
	household bool
}

func (s *stubGateSource) setHousehold(v bool) {
	s.mu.Lock()
	s.household = v
	s.mu.Unlock()
}

func (s *stubGateSource) GateInput(_ context.Context, _ string, loc gate.Route) (gate.Input, *application.CurrentHousehold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := gate.Input{Location: loc}
	in.Session.Present = true
	in.Household.Present = s.household
	return in, nil, nil
}

type keyLog struct {
	mu   sync.Mutex
	keys []string
}

func (l *keyLog) Invalidate(_ context.Context, k cache.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, k.String())
	return nil
}

func (l *keyLog) has(k cache.Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.keys {
		if s == k.String() {
			return true
		}
	}
	return false
}

type realtimeRig struct {
	feed   *memFeed
	syncer *realtime.Syncer
	source *stubGateSource
	cache  *keyLog
	conn   *websocket.Conn
}

func newRealtimeRig(t *testing.T, uid string) *realtimeRig {
	t.Helper()
	rig := &realtimeRig{feed: newMemFeed(), source: &stubGateSource{household: true}, cache: &keyLog{}}
	rig.syncer = realtime.NewSyncer(rig.feed, rig.cache, nil, realtime.ReconnectPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxTries: 1})
	t.Cleanup(rig.syncer.Close)

	h := NewRealtimeHandler(rig.syncer, rig.source, &stubHouseholds{}, rig.cache, nil, nil)
	r := gin.New()
	r.Use(as(uid))
	r.GET("/api/realtime", h.Connect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/realtime", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	rig.conn = conn

	// the connection's own membership watch
	require.Eventually(t, func() bool { return rig.syncer.ChannelCount() == 1 }, 2*time.Second, time.Millisecond)
	return rig
}

func (r *realtimeRig) send(t *testing.T, m clientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, r.conn, m))
}

func (r *realtimeRig) read(t *testing.T) serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m serverMessage
	require.NoError(t, wsjson.Read(ctx, r.conn, &m))
	return m
}

func TestRealtimeSocketRelaysInvalidationsAndNavigation(t *testing.T) {
	rig := newRealtimeRig(t, "u1")
	tasksKey := cache.NewKey("tasks", "h1")

	rig.send(t, clientMessage{Type: msgSubscribe, ID: "t", Resource: realtime.ResourceTasks, Filter: "household_id=eq.h1", Key: tasksKey})
	st := rig.read(t)
	assert.Equal(t, msgStatus, st.Type)
	assert.Equal(t, "t", st.ID)
	assert.Equal(t, string(realtime.StatusSubscribed), st.Status)

	rig.feed.emit(realtime.ChangeEvent{Resource: realtime.ResourceTasks, Type: realtime.EventInsert, Record: map[string]any{"id": "x", "household_id": "h1"}})
	inv := rig.read(t)
	assert.Equal(t, msgInvalidate, inv.Type)
	assert.Equal(t, "t", inv.ID)
	assert.True(t, tasksKey.Equal(inv.Key))

	rig.send(t, clientMessage{Type: msgUnsubscribe, ID: "t"})
	require.Eventually(t, func() bool { return rig.syncer.ChannelCount() == 1 }, 2*time.Second, time.Millisecond)
	rig.feed.emit(realtime.ChangeEvent{Resource: realtime.ResourceTasks, Type: realtime.EventInsert, Record: map[string]any{"id": "y", "household_id": "h1"}})

	// signed in with a household, sitting on the login screen
	rig.send(t, clientMessage{Type: msgLocation, Location: "/(auth)/login"})
	nav := rig.read(t)
	assert.Equal(t, msgNavigate, nav.Type, "no invalidation after unsubscribe")
	assert.Equal(t, gate.RouteHome.String(), nav.To)
	assert.Equal(t, gate.PhaseActive, nav.Phase)

	// leaving the household elsewhere moves this client to onboarding
	rig.source.setHousehold(false)
	rig.feed.emit(realtime.ChangeEvent{Resource: realtime.ResourceMembers, Type: realtime.EventDelete, OldRecord: map[string]any{"id": "m1", "household_id": "h1", "user_id": "u1"}})
	nav = rig.read(t)
	assert.Equal(t, msgNavigate, nav.Type)
	assert.Equal(t, gate.RouteOnboarding.String(), nav.To)
	assert.Equal(t, gate.PhaseNeedsOnboarding, nav.Phase)
	assert.True(t, rig.cache.has(application.KeyCurrentHousehold("u1")))
}

func TestRealtimeSocketRejectsForeignHousehold(t *testing.T) {
	rig := newRealtimeRig(t, "u1")

	rig.send(t, clientMessage{Type: msgSubscribe, ID: "t", Resource: realtime.ResourceTasks, Filter: "household_id=eq.h2", Key: cache.NewKey("tasks", "h2")})
	m := rig.read(t)
	assert.Equal(t, msgError, m.Type)
	assert.Equal(t, "t", m.ID)
	assert.Equal(t, 1, rig.syncer.ChannelCount())
}

func TestRealtimeSocketClosesWhenSocketEnds(t *testing.T) {
	rig := newRealtimeRig(t, "u1")
	rig.send(t, clientMessage{Type: msgSubscribe, ID: "t", Resource: realtime.ResourceTasks, Filter: "household_id=eq.h1", Key: cache.NewKey("tasks", "h1")})
	rig.read(t)
	require.Equal(t, 2, rig.syncer.ChannelCount())

	require.NoError(t, rig.conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return rig.syncer.ChannelCount() == 0 }, 2*time.Second, time.Millisecond)
}

func TestPushDisconnectsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &wsSession{
		h:      &RealtimeHandler{},
		userID: "u1",
		send:   make(chan serverMessage, wsSendBuffer),
		cancel: cancel,
	}
	for i := 0; i < wsSendBuffer; i++ {
		s.push(serverMessage{Type: msgInvalidate, ID: "t"})
	}
	require.NoError(t, ctx.Err())

	s.push(serverMessage{Type: msgInvalidate, ID: "t"})
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// later pushes are dropped without blocking
	s.push(serverMessage{Type: msgInvalidate, ID: "t"})
	assert.Len(t, s.send, wsSendBuffer)
}
