package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/pkg/response"
)

type PreferencesService interface {
	Get(ctx context.Context, userID string) (entity.Preferences, error)
	Update(ctx context.Context, userID string, patch entity.PreferencesPatch) (entity.Preferences, error)
}

type PreferencesHandler struct {
	Svc    PreferencesService
	Logger *logrus.Logger
}

func NewPreferencesHandler(svc PreferencesService, logger *logrus.Logger) *PreferencesHandler {
	return &PreferencesHandler{Svc: svc, Logger: logger}
}

func (h *PreferencesHandler) Get(c *gin.Context) {
	p, err := h.Svc.Get(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, p, "preferences", nil)
}

// Patch PATCH /api/preferences. Absent fields keep their stored value.
func (h *PreferencesHandler) Patch(c *gin.Context) {
	var patch entity.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		invalidPayload(c, err)
		return
	}
	p, err := h.Svc.Update(c.Request.Context(), userID(c), patch)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, p, "preferences updated", nil)
}
