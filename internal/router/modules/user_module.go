package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/homekeep/internal/container"
	handlers "github.com/oksasatya/homekeep/internal/interface/http"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

// UserModule serves the caller's own profile and preferences.
type UserModule struct {
	Profile     *handlers.AuthHandler
	Preferences *handlers.PreferencesHandler
	JWT         *helpers.JWTManager
}

func NewUserModule(profile *handlers.AuthHandler, prefs *handlers.PreferencesHandler, jwt *helpers.JWTManager) *UserModule {
	return &UserModule{Profile: profile, Preferences: prefs, JWT: jwt}
}

func (m *UserModule) Register(rg *gin.RouterGroup) {
	auth := protected(rg, m.JWT)
	{
		auth.GET("/profile", m.Profile.GetProfile)
		auth.PUT("/profile", m.Profile.UpdateProfile)
		auth.POST("/profile/avatar",
			middleware.RateLimit(container.GetRedis(), middleware.PerUser(10, time.Hour)),
			m.Profile.UploadAvatar)

		auth.GET("/preferences", m.Preferences.Get)
		auth.PATCH("/preferences", m.Preferences.Patch)
	}
}
