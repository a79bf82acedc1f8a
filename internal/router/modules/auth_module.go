package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/homekeep/internal/container"
	handlers "github.com/oksasatya/homekeep/internal/interface/http"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

// protected returns a group behind the session check with the default
// per-IP and per-user limits.
func protected(rg *gin.RouterGroup, jwt *helpers.JWTManager) *gin.RouterGroup {
	auth := rg.Group("/")
	auth.Use(middleware.Auth(container.GetRedis(), jwt))
	auth.Use(
		middleware.RateLimit(container.GetRedis(), middleware.PerIP(300, time.Minute).Except(middleware.AllowPrivateIP())),
		middleware.RateLimit(container.GetRedis(), middleware.PerUser(120, time.Minute)),
	)
	return auth
}

// AuthModule wires account endpoints.
// Public: POST /api/signup, /api/login, /api/refresh, /api/auth/verify/confirm, /api/auth/reset/*
// Protected: POST /api/logout, /api/auth/verify/init
type AuthModule struct {
	Handler *handlers.AuthHandler
	JWT     *helpers.JWTManager
}

func NewAuthModule(h *handlers.AuthHandler, jwt *helpers.JWTManager) *AuthModule {
	return &AuthModule{Handler: h, JWT: jwt}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	rdb := container.GetRedis()
	signupLimiter := middleware.RateLimit(rdb, middleware.PerIP(5, time.Minute))
	loginLimiter := middleware.RateLimit(rdb, middleware.PerIP(10, time.Minute))
	refreshLimiter := middleware.RateLimit(rdb, middleware.PerIP(60, time.Minute))
	verifyConfirmLimiter := middleware.RateLimit(rdb, middleware.PerRoute(30, time.Minute))
	resetInitLimiter := middleware.RateLimit(rdb, middleware.PerRoute(5, time.Minute))
	resetConfirmLimiter := middleware.RateLimit(rdb, middleware.PerRoute(30, time.Minute))

	rg.POST("/signup", signupLimiter, m.Handler.Signup)
	rg.POST("/login", loginLimiter, m.Handler.Login)
	rg.POST("/refresh", refreshLimiter, m.Handler.Refresh)
	rg.POST("/auth/verify/confirm", verifyConfirmLimiter, m.Handler.VerifyConfirm)
	rg.POST("/auth/reset/init", resetInitLimiter, m.Handler.ResetInit)
	rg.POST("/auth/reset/confirm", resetConfirmLimiter, m.Handler.ResetConfirm)

	auth := protected(rg, m.JWT)
	{
		auth.POST("/logout", m.Handler.Logout)
		auth.POST("/auth/verify/init", middleware.RateLimit(rdb, middleware.PerUser(5, time.Minute)), m.Handler.VerifyInit)
	}
}
