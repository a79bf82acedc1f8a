package modules

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/homekeep/internal/container"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/pkg/response"
)

type DebugModule struct {
	MetricsEnabled bool
}

func NewDebugModule(metrics bool) *DebugModule { return &DebugModule{MetricsEnabled: metrics} }

func (m *DebugModule) Register(rg *gin.RouterGroup) {
	// probes hit /health from inside the cluster and are never limited
	skip := middleware.AnyAllow(middleware.AllowPrivateIP(), middleware.AllowPaths(rg.BasePath()+"/health"))
	rl := middleware.RateLimit(container.GetRedis(), middleware.PerIP(120, time.Minute).Except(skip))
	rg.GET("/health", rl, health)
	if m.MetricsEnabled {
		rg.GET("/debug/vars", rl, gin.WrapH(expvar.Handler()))
	}
}

// health reports whether Postgres and Redis answer within two seconds.
func health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true
	if pool := container.GetPGPool(); pool != nil {
		if err := pool.Ping(ctx); err != nil {
			checks["postgres"], healthy = err.Error(), false
		}
	}
	if rdb := container.GetRedis(); rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"], healthy = err.Error(), false
		}
	}
	if s := container.GetSyncer(); s != nil {
		checks["realtime_channels"] = s.ChannelCount()
	}
	if !healthy {
		response.Error(c, http.StatusServiceUnavailable, "degraded", checks)
		return
	}
	response.Success(c, http.StatusOK, checks, "ok", nil)
}
