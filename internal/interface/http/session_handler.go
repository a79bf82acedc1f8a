package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/gate"
	"github.com/oksasatya/homekeep/pkg/response"
)

type SessionService interface {
	Decide(ctx context.Context, userID string, location gate.Route) (gate.Decision, *application.CurrentHousehold, error)
}

type SessionHandler struct {
	Svc    SessionService
	Logger *logrus.Logger
}

func NewSessionHandler(svc SessionService, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{Svc: svc, Logger: logger}
}

type gateResponse struct {
	Authenticated bool                          `json:"authenticated"`
	Phase         gate.Phase                    `json:"phase"`
	Redirect      bool                          `json:"redirect"`
	Target        string                        `json:"target,omitempty"`
	Household     *application.CurrentHousehold `json:"household"`
}

// Gate GET /api/session/gate?location=/(tabs)/home tells the client where it
// must be. Runs behind optional auth so anonymous callers get a decision too.
func (h *SessionHandler) Gate(c *gin.Context) {
	uid := userID(c)
	loc := gate.ParseRoute(c.Query("location"))
	d, cur, err := h.Svc.Decide(c.Request.Context(), uid, loc)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	out := gateResponse{Authenticated: uid != "", Phase: d.Phase, Redirect: d.Redirect, Household: cur}
	if d.Redirect {
		out.Target = d.Target.String()
	}
	response.Success(c, http.StatusOK, out, "gate decision", nil)
}
