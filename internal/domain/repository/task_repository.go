package repository

import (
	"context"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/domain/entity"
)

type TaskFilter struct {
	Status     entity.TaskStatus
	AssigneeID string
	ChoresOnly bool
}

type TaskRepository interface {
	Create(ctx context.Context, t *entity.Task) error
	GetByID(ctx context.Context, id string) (*entity.Task, error)
	List(ctx context.Context, householdID string, f TaskFilter) ([]entity.Task, error)
	Update(ctx context.Context, t *entity.Task) error
	Delete(ctx context.Context, id string) error
	// Complete marks the task done by userID and awards its points through
	// the award_points procedure in one transaction. It returns the updated
	// task and the user's new point total.
	Complete(ctx context.Context, id, userID string) (*entity.Task, int, error)
}

// ErrTaskCompleted is returned when completing a one-off task twice.
var ErrTaskCompleted = apperr.New("23514", "task already completed")
