package entity

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Recurrence marks a task as a repeating chore.
type Recurrence string

const (
	RecurNone   Recurrence = "none"
	RecurDaily  Recurrence = "daily"
	RecurWeekly Recurrence = "weekly"
)

func (r Recurrence) Valid() bool {
	return r == RecurNone || r == RecurDaily || r == RecurWeekly
}

// Next returns the due date following from, or nil for one-off tasks.
func (r Recurrence) Next(from time.Time) *time.Time {
	var t time.Time
	switch r {
	case RecurDaily:
		t = from.AddDate(0, 0, 1)
	case RecurWeekly:
		t = from.AddDate(0, 0, 7)
	default:
		return nil
	}
	return &t
}

type Task struct {
	ID          string     `json:"id"`
	HouseholdID string     `json:"household_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	Points      int        `json:"points"`
	Recurrence  Recurrence `json:"recurrence"`
	Status      TaskStatus `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsChore reports whether the task repeats.
func (t *Task) IsChore() bool { return t.Recurrence != "" && t.Recurrence != RecurNone }

// PointAward is one ledger row written when a task is completed.
type PointAward struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	UserID      string    `json:"user_id"`
	TaskID      *string   `json:"task_id,omitempty"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
}
