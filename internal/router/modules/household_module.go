package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/homekeep/internal/container"
	handlers "github.com/oksasatya/homekeep/internal/interface/http"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

// HouseholdModule wires households and everything scoped to one: tasks,
// chat and the leaderboard. Every route requires a session.
type HouseholdModule struct {
	Households *handlers.HouseholdHandler
	Tasks      *handlers.TaskHandler
	Messages   *handlers.MessageHandler
	JWT        *helpers.JWTManager
}

func NewHouseholdModule(hh *handlers.HouseholdHandler, tasks *handlers.TaskHandler, msgs *handlers.MessageHandler, jwt *helpers.JWTManager) *HouseholdModule {
	return &HouseholdModule{Households: hh, Tasks: tasks, Messages: msgs, JWT: jwt}
}

func (m *HouseholdModule) Register(rg *gin.RouterGroup) {
	auth := protected(rg, m.JWT)

	joinLimiter := middleware.RateLimit(container.GetRedis(), middleware.PerUser(10, time.Minute))
	inviteLimiter := middleware.RateLimit(container.GetRedis(), middleware.PerUser(20, time.Hour))

	hh := auth.Group("/households")
	{
		hh.GET("/current", m.Households.Current)
		hh.POST("", m.Households.Create)
		hh.POST("/join", joinLimiter, m.Households.Join)
		hh.PATCH("/:id", m.Households.Rename)
		hh.DELETE("/:id/membership", m.Households.Leave)
		hh.GET("/:id/members", m.Households.Members)
		hh.GET("/:id/leaderboard", m.Households.Leaderboard)
		hh.POST("/:id/invite", inviteLimiter, m.Households.Invite)

		hh.GET("/:id/tasks", m.Tasks.List)
		hh.POST("/:id/tasks", m.Tasks.Create)
		hh.GET("/:id/tasks/search", m.Tasks.Search)

		hh.GET("/:id/messages", m.Messages.List)
		hh.POST("/:id/messages", m.Messages.Post)
	}

	tasks := auth.Group("/tasks")
	{
		tasks.GET("/:taskID", m.Tasks.Get)
		tasks.PUT("/:taskID", m.Tasks.Update)
		tasks.DELETE("/:taskID", m.Tasks.Delete)
		tasks.POST("/:taskID/complete", m.Tasks.Complete)
	}
}
