package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/internal/gate"
	"github.com/oksasatya/homekeep/internal/realtime"
	"github.com/oksasatya/homekeep/pkg/response"
)

const (
	wsSendBuffer     = 64
	wsWriteWait      = 10 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 8 << 10
	wsMaxBindings    = 32
)

// Client to server message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgLocation    = "location"
)

// Server to client message types.
const (
	msgInvalidate = "invalidate"
	msgNavigate   = "navigate"
	msgStatus     = "status"
	msgError      = "error"
)

var watchable = map[string]bool{
	realtime.ResourceHouseholds: true,
	realtime.ResourceMembers:    true,
	realtime.ResourceTasks:      true,
	realtime.ResourceMessages:   true,
	realtime.ResourceAwards:     true,
}

var (
	errFilterRequired  = errors.New("filter must be household_id=eq.<id> or user_id=eq.<your id>")
	errUnknownResource = errors.New("unknown resource")
	errTooManyBindings = errors.New("too many subscriptions on this connection")
)

type clientMessage struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Resource string    `json:"resource,omitempty"`
	Event    string    `json:"event,omitempty"`
	Filter   string    `json:"filter,omitempty"`
	Key      cache.Key `json:"key,omitempty"`
	Location string    `json:"location,omitempty"`
}

type serverMessage struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	Key     cache.Key  `json:"key,omitempty"`
	Status  string     `json:"status,omitempty"`
	To      string     `json:"to,omitempty"`
	Phase   gate.Phase `json:"phase,omitempty"`
	Message string     `json:"message,omitempty"`
}

// GateSource reports the session and household state for the gate.
type GateSource interface {
	GateInput(ctx context.Context, userID string, location gate.Route) (gate.Input, *application.CurrentHousehold, error)
}

// MembershipChecker authorizes access to a household's rows.
type MembershipChecker interface {
	Authorize(ctx context.Context, userID, householdID string) (*entity.Membership, error)
}

// RealtimeHandler upgrades to a websocket that relays cache invalidations
// and gate navigations to one client.
type RealtimeHandler struct {
	Syncer         *realtime.Syncer
	Session        GateSource
	Households     MembershipChecker
	Cache          cache.Invalidator
	Logger         *logrus.Logger
	OriginPatterns []string
}

func NewRealtimeHandler(syncer *realtime.Syncer, session GateSource, households MembershipChecker, c cache.Invalidator, logger *logrus.Logger, origins []string) *RealtimeHandler {
	return &RealtimeHandler{Syncer: syncer, Session: session, Households: households, Cache: c, Logger: logger, OriginPatterns: origins}
}

// Connect GET /api/realtime
func (h *RealtimeHandler) Connect(c *gin.Context) {
	uid := userID(c)
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  h.OriginPatterns,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).WithField("user_id", uid).Warn("websocket upgrade failed")
		}
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	ctx, cancel := context.WithCancel(c.Request.Context())
	s := &wsSession{
		h:        h,
		conn:     conn,
		userID:   uid,
		send:     make(chan serverMessage, wsSendBuffer),
		cancel:   cancel,
		bindings: make(map[string]*realtime.Binding),
	}
	s.gate = gate.New(gate.NavigatorFunc(s.navigate))
	if h.Logger != nil {
		h.Logger.WithFields(logrus.Fields{"user_id": uid, "ip": clientIP(c)}).Info("realtime client connected")
	}

	go s.writePump(ctx)
	s.watchHousehold(ctx)
	s.readPump(ctx)

	cancel()
	s.closeBindings()
	if h.Logger != nil {
		h.Logger.WithField("user_id", uid).Info("realtime client disconnected")
	}
}

type wsSession struct {
	h      *RealtimeHandler
	conn   *websocket.Conn
	userID string
	send   chan serverMessage
	cancel context.CancelFunc
	gate   *gate.Gate

	// evalMu serializes gate evaluation; phase belongs to the input under it
	evalMu sync.Mutex
	phase  gate.Phase

	mu        sync.Mutex
	bindings  map[string]*realtime.Binding
	household *realtime.Binding
	location  gate.Route
	closed    bool
}

// push queues m. A client that cannot keep up is disconnected; it will
// refetch everything when it reconnects.
func (s *wsSession) push(m serverMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- m:
	default:
		s.closed = true
		s.cancel()
		if s.h.Logger != nil {
			s.h.Logger.WithField("user_id", s.userID).Warn("realtime send buffer full, dropping client")
		}
	}
}

func (s *wsSession) writePump(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.conn.Close(websocket.StatusGoingAway, "closing")
			return
		case m := <-s.send:
			wctx, cancel := context.WithTimeout(ctx, wsWriteWait)
			err := wsjson.Write(wctx, s.conn, m)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteWait)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *wsSession) readPump(ctx context.Context) {
	for {
		var m clientMessage
		if err := wsjson.Read(ctx, s.conn, &m); err != nil {
			st := websocket.CloseStatus(err)
			if st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && ctx.Err() == nil && s.h.Logger != nil {
				s.h.Logger.WithError(err).WithField("user_id", s.userID).Debug("realtime read ended")
			}
			return
		}
		switch m.Type {
		case msgSubscribe:
			s.subscribe(ctx, m)
		case msgUnsubscribe:
			s.unsubscribe(m.ID)
		case msgLocation:
			s.observe(ctx, gate.ParseRoute(m.Location))
		default:
			s.push(serverMessage{Type: msgError, ID: m.ID, Message: "unknown message type"})
		}
	}
}

func (s *wsSession) subscribe(ctx context.Context, m clientMessage) {
	desc, err := s.authorize(ctx, m)
	if err != nil {
		s.push(serverMessage{Type: msgError, ID: m.ID, Message: err.Error()})
		return
	}
	s.mu.Lock()
	b, ok := s.bindings[m.ID]
	if !ok {
		if len(s.bindings) >= wsMaxBindings {
			s.mu.Unlock()
			s.push(serverMessage{Type: msgError, ID: m.ID, Message: errTooManyBindings.Error()})
			return
		}
		id := m.ID
		b = realtime.NewBinding(s.h.Syncer, realtime.Options{
			Invalidator: invalidatorFunc(func(_ context.Context, key cache.Key) error {
				s.push(serverMessage{Type: msgInvalidate, ID: id, Key: key})
				return nil
			}),
			OnStatus: func(st realtime.Status, err error) {
				out := serverMessage{Type: msgStatus, ID: id, Status: string(st)}
				if err != nil {
					out.Message = err.Error()
				}
				s.push(out)
			},
		})
		s.bindings[m.ID] = b
	}
	s.mu.Unlock()

	if err := b.Set(ctx, desc, true); err != nil {
		s.push(serverMessage{Type: msgStatus, ID: m.ID, Status: string(realtime.StatusFailed), Message: err.Error()})
	}
}

// authorize builds the descriptor for m, allowing only rows of a household
// the caller belongs to or rows owned by the caller.
func (s *wsSession) authorize(ctx context.Context, m clientMessage) (realtime.Descriptor, error) {
	desc := realtime.Descriptor{Resource: m.Resource, Event: realtime.EventType(m.Event), Filter: m.Filter, Key: m.Key}
	if strings.TrimSpace(m.ID) == "" {
		return desc, errors.New("id is required")
	}
	if len(m.Key) == 0 {
		return desc, errors.New("key is required")
	}
	if !watchable[m.Resource] {
		return desc, errUnknownResource
	}
	if err := desc.Validate(); err != nil {
		return desc, err
	}
	f, _ := realtime.ParseFilter(m.Filter)
	if f == nil {
		return desc, errFilterRequired
	}
	switch f.Column {
	case "user_id":
		if f.Value != s.userID {
			return desc, errFilterRequired
		}
	case "household_id":
		if _, err := s.h.Households.Authorize(ctx, s.userID, f.Value); err != nil {
			return desc, err
		}
	default:
		return desc, errFilterRequired
	}
	return desc, nil
}

func (s *wsSession) unsubscribe(id string) {
	s.mu.Lock()
	b, ok := s.bindings[id]
	delete(s.bindings, id)
	s.mu.Unlock()
	if ok {
		b.Close()
	}
}

func (s *wsSession) closeBindings() {
	s.mu.Lock()
	bs := s.bindings
	s.bindings = map[string]*realtime.Binding{}
	if s.household != nil {
		bs[""] = s.household
		s.household = nil
	}
	s.closed = true
	s.mu.Unlock()
	for _, b := range bs {
		b.Close()
	}
}

// watchHousehold re-evaluates the gate whenever the caller's memberships
// change, so joining or leaving a household moves the client.
func (s *wsSession) watchHousehold(ctx context.Context) {
	b := realtime.NewBinding(s.h.Syncer, realtime.Options{
		Invalidator: invalidatorFunc(func(ctx context.Context, _ cache.Key) error {
			if s.h.Cache != nil {
				_ = s.h.Cache.Invalidate(ctx, application.KeyCurrentHousehold(s.userID))
			}
			s.mu.Lock()
			loc := s.location
			s.mu.Unlock()
			if loc != nil {
				s.reevaluate(ctx, loc)
			}
			return nil
		}),
	})
	desc := realtime.Descriptor{
		Resource: realtime.ResourceMembers,
		Event:    realtime.EventAll,
		Filter:   (&realtime.Filter{Column: "user_id", Value: s.userID}).String(),
		Key:      application.KeyCurrentHousehold(s.userID),
	}
	if err := b.Set(ctx, desc, true); err != nil {
		if s.h.Logger != nil {
			s.h.Logger.WithError(err).WithField("user_id", s.userID).Warn("household watch unavailable")
		}
		return
	}
	s.mu.Lock()
	s.household = b
	s.mu.Unlock()
}

func (s *wsSession) observe(ctx context.Context, loc gate.Route) {
	s.mu.Lock()
	s.location = loc
	s.mu.Unlock()
	s.reevaluate(ctx, loc)
}

func (s *wsSession) reevaluate(ctx context.Context, loc gate.Route) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	in, _, err := s.h.Session.GateInput(ctx, s.userID, loc)
	if err != nil {
		// the household query is still in flight as far as the gate cares
		in.Household.Loading = true
	}
	s.phase = gate.PhaseOf(in)
	if _, err := s.gate.Observe(ctx, in); err != nil && s.h.Logger != nil {
		s.h.Logger.WithError(err).WithField("user_id", s.userID).Warn("gate navigation failed")
	}
}

// navigate runs inside reevaluate with evalMu held.
func (s *wsSession) navigate(_ context.Context, to gate.Route) error {
	s.push(serverMessage{Type: msgNavigate, To: to.String(), Phase: s.phase})
	s.mu.Lock()
	s.location = to
	s.mu.Unlock()
	return nil
}

type invalidatorFunc func(ctx context.Context, key cache.Key) error

func (f invalidatorFunc) Invalidate(ctx context.Context, key cache.Key) error { return f(ctx, key) }

// Status GET /api/realtime/status
func (h *RealtimeHandler) Status(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"channels": h.Syncer.ChannelCount()}, "realtime status", nil)
}
