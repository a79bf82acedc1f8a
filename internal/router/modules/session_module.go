package modules

import (
	"github.com/gin-gonic/gin"

	"github.com/oksasatya/homekeep/internal/container"
	handlers "github.com/oksasatya/homekeep/internal/interface/http"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

// SessionModule exposes the navigation gate over HTTP and the realtime
// websocket that pushes invalidations and navigations.
type SessionModule struct {
	Session  *handlers.SessionHandler
	Realtime *handlers.RealtimeHandler
	JWT      *helpers.JWTManager
}

func NewSessionModule(s *handlers.SessionHandler, rt *handlers.RealtimeHandler, jwt *helpers.JWTManager) *SessionModule {
	return &SessionModule{Session: s, Realtime: rt, JWT: jwt}
}

func (m *SessionModule) Register(rg *gin.RouterGroup) {
	rg.GET("/session/gate", middleware.OptionalAuth(container.GetRedis(), m.JWT), m.Session.Gate)

	if m.Realtime == nil {
		return
	}
	// the websocket is long lived; only the per-IP limiter applies to the upgrade
	rt := rg.Group("/realtime")
	rt.Use(middleware.Auth(container.GetRedis(), m.JWT))
	{
		rt.GET("", m.Realtime.Connect)
		rt.GET("/status", m.Realtime.Status)
	}
}
