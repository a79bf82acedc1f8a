package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/pkg/response"
)

type HouseholdService interface {
	Current(ctx context.Context, userID string) (*application.CurrentHousehold, error)
	Create(ctx context.Context, userID, name string) (*application.CurrentHousehold, error)
	Join(ctx context.Context, userID, code string) (*application.CurrentHousehold, error)
	Leave(ctx context.Context, userID, householdID string) error
	Rename(ctx context.Context, userID, householdID, name string) (*entity.Household, error)
	Members(ctx context.Context, userID, householdID string) ([]entity.Member, error)
	Leaderboard(ctx context.Context, userID, householdID string) ([]entity.LeaderboardEntry, error)
	Invite(ctx context.Context, userID, householdID, email string) (string, error)
}

type HouseholdHandler struct {
	Svc    HouseholdService
	Logger *logrus.Logger
}

func NewHouseholdHandler(svc HouseholdService, logger *logrus.Logger) *HouseholdHandler {
	return &HouseholdHandler{Svc: svc, Logger: logger}
}

type householdNameRequest struct {
	Name string `json:"name" binding:"required,max=80"`
}

// Current GET /api/households/current. data is null when the user has not
// joined a household yet.
func (h *HouseholdHandler) Current(c *gin.Context) {
	cur, err := h.Svc.Current(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, cur, "current household", gin.H{"has_household": cur != nil})
}

func (h *HouseholdHandler) Create(c *gin.Context) {
	var req householdNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	cur, err := h.Svc.Create(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusCreated, cur, "household created", nil)
}

// Join POST /api/households/join {code}
func (h *HouseholdHandler) Join(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required,invitecode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	cur, err := h.Svc.Join(c.Request.Context(), userID(c), req.Code)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, cur, "joined household", nil)
}

func (h *HouseholdHandler) Leave(c *gin.Context) {
	if err := h.Svc.Leave(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true}, "left household", nil)
}

func (h *HouseholdHandler) Rename(c *gin.Context) {
	var req householdNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	hh, err := h.Svc.Rename(c.Request.Context(), userID(c), c.Param("id"), req.Name)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, hh, "household renamed", nil)
}

func (h *HouseholdHandler) Members(c *gin.Context) {
	members, err := h.Svc.Members(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, members, "members", gin.H{"count": len(members)})
}

func (h *HouseholdHandler) Leaderboard(c *gin.Context) {
	board, err := h.Svc.Leaderboard(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, board, "leaderboard", nil)
}

// Invite POST /api/households/:id/invite {email}
func (h *HouseholdHandler) Invite(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	link, err := h.Svc.Invite(c.Request.Context(), userID(c), c.Param("id"), req.Email)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"join_link": link}, "invitation sent", nil)
}
