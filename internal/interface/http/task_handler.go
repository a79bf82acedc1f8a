package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/pkg/response"
)

type TaskService interface {
	List(ctx context.Context, userID, householdID string, f repo.TaskFilter) ([]entity.Task, error)
	Get(ctx context.Context, userID, taskID string) (*entity.Task, error)
	Create(ctx context.Context, userID, householdID string, in application.TaskInput) (*entity.Task, error)
	Update(ctx context.Context, userID, taskID string, in application.TaskInput) (*entity.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
	Complete(ctx context.Context, userID, taskID string) (*application.CompleteResult, error)
	Search(ctx context.Context, userID, householdID, q string, size int) ([]map[string]any, error)
}

type TaskHandler struct {
	Svc    TaskService
	Logger *logrus.Logger
}

func NewTaskHandler(svc TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{Svc: svc, Logger: logger}
}

type taskRequest struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description string     `json:"description" binding:"max=2000"`
	AssigneeID  *string    `json:"assignee_id" binding:"omitempty,uuid"`
	Points      int        `json:"points" binding:"min=0,max=1000"`
	Recurrence  string     `json:"recurrence" binding:"omitempty,recurrence"`
	DueAt       *time.Time `json:"due_at"`
}

func (r taskRequest) input() application.TaskInput {
	return application.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		AssigneeID:  r.AssigneeID,
		Points:      r.Points,
		Recurrence:  entity.Recurrence(r.Recurrence),
		DueAt:       r.DueAt,
	}
}

type taskQuery struct {
	Status     string `form:"status" binding:"omitempty,taskstatus"`
	AssigneeID string `form:"assignee_id" binding:"omitempty,uuid"`
	Chores     bool   `form:"chores"`
}

// List GET /api/households/:id/tasks?status=&assignee_id=&chores=
func (h *TaskHandler) List(c *gin.Context) {
	var q taskQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidPayload(c, err)
		return
	}
	f := repo.TaskFilter{Status: entity.TaskStatus(q.Status), AssigneeID: q.AssigneeID, ChoresOnly: q.Chores}
	tasks, err := h.Svc.List(c.Request.Context(), userID(c), c.Param("id"), f)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, tasks, "tasks", gin.H{"count": len(tasks)})
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	t, err := h.Svc.Create(c.Request.Context(), userID(c), c.Param("id"), req.input())
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusCreated, t, "task created", nil)
}

// Search GET /api/households/:id/tasks/search?q=&size=
func (h *TaskHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.Error(c, http.StatusBadRequest, "q is required", nil)
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.Svc.Search(c.Request.Context(), userID(c), c.Param("id"), q, size)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, hits, "search results", gin.H{"count": len(hits)})
}

func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.Svc.Get(c.Request.Context(), userID(c), c.Param("taskID"))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, t, "task", nil)
}

func (h *TaskHandler) Update(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	t, err := h.Svc.Update(c.Request.Context(), userID(c), c.Param("taskID"), req.input())
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, t, "task updated", nil)
}

func (h *TaskHandler) Delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), userID(c), c.Param("taskID")); err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true}, "task deleted", nil)
}

// Complete POST /api/tasks/:taskID/complete awards the task's points to the caller.
func (h *TaskHandler) Complete(c *gin.Context) {
	res, err := h.Svc.Complete(c.Request.Context(), userID(c), c.Param("taskID"))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	response.Success(c, http.StatusOK, res, "task completed", nil)
}
