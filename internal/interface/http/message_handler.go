package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/pkg/response"
)

type MessageService interface {
	List(ctx context.Context, userID, householdID string, before time.Time, limit int) ([]entity.Message, error)
	Post(ctx context.Context, userID, householdID, body string) (*entity.Message, error)
}

type MessageHandler struct {
	Svc    MessageService
	Logger *logrus.Logger
}

func NewMessageHandler(svc MessageService, logger *logrus.Logger) *MessageHandler {
	return &MessageHandler{Svc: svc, Logger: logger}
}

type messageQuery struct {
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"omitempty,min=1,max=200"`
}

// List GET /api/households/:id/messages?before=&limit=. Omitting before
// returns the newest page.
func (h *MessageHandler) List(c *gin.Context) {
	var q messageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidPayload(c, err)
		return
	}
	msgs, err := h.Svc.List(c.Request.Context(), userID(c), c.Param("id"), q.Before, q.Limit)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	meta := gin.H{"count": len(msgs)}
	if n := len(msgs); n > 0 {
		meta["next_before"] = msgs[n-1].CreatedAt
	}
	response.Success(c, http.StatusOK, msgs, "messages", meta)
}

func (h *MessageHandler) Post(c *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	m, err := h.Svc.Post(c.Request.Context(), userID(c), c.Param("id"), req.Body)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusCreated, m, "message sent", nil)
}
