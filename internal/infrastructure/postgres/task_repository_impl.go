package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/internal/domain/repository"
)

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, household_id, title, description, assignee_id, points, recurrence, status,
	due_at, completed_by, completed_at, created_by, created_at, updated_at`

func scanTask(row pgx.Row) (*entity.Task, error) {
	t := &entity.Task{}
	if err := row.Scan(&t.ID, &t.HouseholdID, &t.Title, &t.Description, &t.AssigneeID, &t.Points,
		&t.Recurrence, &t.Status, &t.DueAt, &t.CompletedBy, &t.CompletedAt, &t.CreatedBy,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TaskRepository) Create(ctx context.Context, t *entity.Task) error {
	if t.Recurrence == "" {
		t.Recurrence = entity.RecurNone
	}
	if t.Status == "" {
		t.Status = entity.TaskPending
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (household_id, title, description, assignee_id, points, recurrence, status, due_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, t.HouseholdID, t.Title, t.Description, t.AssigneeID, t.Points, t.Recurrence, t.Status, t.DueAt, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (r *TaskRepository) List(ctx context.Context, householdID string, f repository.TaskFilter) ([]entity.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE household_id = $1`
	args := []any{householdID}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.AssigneeID != "" {
		args = append(args, f.AssigneeID)
		q += ` AND assignee_id = $` + strconv.Itoa(len(args))
	}
	if f.ChoresOnly {
		q += ` AND recurrence <> 'none'`
	}
	q += ` ORDER BY due_at ASC NULLS LAST, created_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TaskRepository) Update(ctx context.Context, t *entity.Task) error {
	t.UpdatedAt = time.Now()
	res, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET title = $1, description = $2, assignee_id = $3, points = $4, recurrence = $5, due_at = $6, updated_at = $7
		WHERE id = $8
	`, t.Title, t.Description, t.AssigneeID, t.Points, t.Recurrence, t.DueAt, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	res, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Complete(ctx context.Context, id, userID string) (*entity.Task, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, 0, err
	}
	if t.Status == entity.TaskCompleted {
		return nil, 0, repository.ErrTaskCompleted
	}

	now := time.Now()
	t.CompletedBy = &userID
	t.CompletedAt = &now
	if t.IsChore() {
		// chores roll forward instead of closing
		from := now
		if t.DueAt != nil {
			from = *t.DueAt
		}
		t.DueAt = t.Recurrence.Next(from)
	} else {
		t.Status = entity.TaskCompleted
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, due_at = $2, completed_by = $3, completed_at = $4, updated_at = $4
		WHERE id = $5
	`, t.Status, t.DueAt, t.CompletedBy, t.CompletedAt, t.ID); err != nil {
		return nil, 0, err
	}
	t.UpdatedAt = now

	var total int
	if err := tx.QueryRow(ctx, `SELECT award_points($1, $2, $3, $4)`,
		t.HouseholdID, userID, t.Points, t.ID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return t, total, nil
}

var _ repository.TaskRepository = (*TaskRepository)(nil)
