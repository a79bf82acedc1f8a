package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/internal/realtime"
)

var (
	ErrTaskTitle      = apperr.New("23514", "task title is required")
	ErrTaskRecurrence = apperr.New("23514", "recurrence must be none, daily or weekly")
	ErrTaskPoints     = apperr.New("23514", "points must not be negative")
)

type TaskService struct {
	Repo         repo.TaskRepository
	Households   *HouseholdService
	Cache        *cache.Client
	Logger       *logrus.Logger
	ES           *elasticsearch.Client
	ESTasksIndex string
	notifier
}

func NewTaskService(r repo.TaskRepository, households *HouseholdService, c *cache.Client, pub realtime.Publisher, logger *logrus.Logger, es *elasticsearch.Client, esTasksIndex string) *TaskService {
	return &TaskService{
		Repo:         r,
		Households:   households,
		Cache:        c,
		Logger:       logger,
		ES:           es,
		ESTasksIndex: esTasksIndex,
		notifier:     notifier{pub: pub, logger: logger},
	}
}

type TaskInput struct {
	Title       string
	Description string
	AssigneeID  *string
	Points      int
	Recurrence  entity.Recurrence
	DueAt       *time.Time
}

func (in *TaskInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return ErrTaskTitle
	}
	if in.Recurrence == "" {
		in.Recurrence = entity.RecurNone
	}
	if !in.Recurrence.Valid() {
		return ErrTaskRecurrence
	}
	if in.Points < 0 {
		return ErrTaskPoints
	}
	return nil
}

// CompleteResult is returned after a task completion.
type CompleteResult struct {
	Task        *entity.Task `json:"task"`
	TotalPoints int          `json:"total_points"`
}

func tasksKey(householdID string, f repo.TaskFilter) cache.Key {
	k := KeyTasks(householdID)
	status := string(f.Status)
	if status == "" {
		status = "all"
	}
	k = append(k, status)
	if f.AssigneeID != "" {
		k = append(k, "assignee", f.AssigneeID)
	}
	if f.ChoresOnly {
		k = append(k, "chores")
	}
	return k
}

func (s *TaskService) List(ctx context.Context, userID, householdID string, f repo.TaskFilter) ([]entity.Task, error) {
	if _, err := s.Households.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	return cache.FetchJSON(ctx, s.Cache, tasksKey(householdID, f), func(ctx context.Context) ([]entity.Task, error) {
		return s.Repo.List(ctx, householdID, f)
	})
}

// task loads a task and checks the caller belongs to its household.
func (s *TaskService) task(ctx context.Context, userID, taskID string) (*entity.Task, error) {
	t, err := s.Repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Households.Authorize(ctx, userID, t.HouseholdID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskService) Get(ctx context.Context, userID, taskID string) (*entity.Task, error) {
	return s.task(ctx, userID, taskID)
}

func (s *TaskService) Create(ctx context.Context, userID, householdID string, in TaskInput) (*entity.Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.Households.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	if err := s.checkAssignee(ctx, householdID, in.AssigneeID); err != nil {
		return nil, err
	}
	t := &entity.Task{
		HouseholdID: householdID,
		Title:       in.Title,
		Description: in.Description,
		AssigneeID:  in.AssigneeID,
		Points:      in.Points,
		Recurrence:  in.Recurrence,
		Status:      entity.TaskPending,
		DueAt:       in.DueAt,
		CreatedBy:   userID,
	}
	if err := s.Repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.changed(ctx, t, realtime.EventInsert)
	return t, nil
}

func (s *TaskService) Update(ctx context.Context, userID, taskID string, in TaskInput) (*entity.Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.task(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAssignee(ctx, t.HouseholdID, in.AssigneeID); err != nil {
		return nil, err
	}
	t.Title = in.Title
	t.Description = in.Description
	t.AssigneeID = in.AssigneeID
	t.Points = in.Points
	t.Recurrence = in.Recurrence
	t.DueAt = in.DueAt
	if err := s.Repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.changed(ctx, t, realtime.EventUpdate)
	return t, nil
}

func (s *TaskService) Delete(ctx context.Context, userID, taskID string) error {
	t, err := s.task(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, taskID); err != nil {
		return err
	}
	s.changed(ctx, t, realtime.EventDelete)
	return nil
}

// Complete closes the task (or rolls a chore forward) and awards its points
// to the caller atomically.
func (s *TaskService) Complete(ctx context.Context, userID, taskID string) (*CompleteResult, error) {
	t, err := s.task(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	done, total, err := s.Repo.Complete(ctx, t.ID, userID)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, done, realtime.EventUpdate)
	s.Cache.InvalidateAll(ctx, KeyMembers(done.HouseholdID), KeyLeaderboard(done.HouseholdID))
	s.publish(ctx, realtime.ResourceAwards, realtime.EventInsert, map[string]any{
		"household_id": done.HouseholdID,
		"user_id":      userID,
		"task_id":      done.ID,
		"points":       done.Points,
	})
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"task_id": done.ID, "user_id": userID, "points": done.Points}).Info("task completed")
	}
	return &CompleteResult{Task: done, TotalPoints: total}, nil
}

func (s *TaskService) checkAssignee(ctx context.Context, householdID string, assignee *string) error {
	if assignee == nil || *assignee == "" {
		return nil
	}
	_, err := s.Households.Authorize(ctx, *assignee, householdID)
	if errors.Is(err, ErrNotMember) {
		return apperr.New("23503", "assignee is not a member of this household")
	}
	return err
}

func (s *TaskService) changed(ctx context.Context, t *entity.Task, typ realtime.EventType) {
	s.Cache.InvalidateAll(ctx, KeyTasks(t.HouseholdID))
	s.publish(ctx, realtime.ResourceTasks, typ, t)
	if typ == realtime.EventDelete {
		s.unindexTask(ctx, t.ID)
		return
	}
	_ = s.indexTask(ctx, t)
}

func (s *TaskService) indexTask(ctx context.Context, t *entity.Task) error {
	if s.ES == nil || s.ESTasksIndex == "" {
		return nil
	}
	doc := map[string]any{
		"id":           t.ID,
		"household_id": t.HouseholdID,
		"title":        t.Title,
		"description":  t.Description,
		"status":       t.Status,
		"recurrence":   t.Recurrence,
		"points":       t.Points,
		"created_at":   t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   t.UpdatedAt.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.ESTasksIndex, DocumentID: t.ID, Body: bytes.NewReader(b), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("task_id", t.ID).Warn("es index failed")
		}
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("task_id", t.ID).Warn("es index response error")
	}
	return nil
}

func (s *TaskService) unindexTask(ctx context.Context, id string) {
	if s.ES == nil || s.ESTasksIndex == "" {
		return
	}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := esapi.DeleteRequest{Index: s.ESTasksIndex, DocumentID: id}.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("task_id", id).Warn("es delete failed")
		}
		return
	}
	_ = res.Body.Close()
}

// Search runs a full-text query over the household's tasks.
func (s *TaskService) Search(ctx context.Context, userID, householdID, q string, size int) ([]map[string]any, error) {
	if _, err := s.Households.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	if s.ES == nil || s.ESTasksIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  q,
						"fields": []string{"title^2", "description"},
					},
				},
				"filter": map[string]any{
					"term": map[string]any{"household_id": householdID},
				},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(s.ES.Search.WithContext(c), s.ES.Search.WithIndex(s.ESTasksIndex), s.ES.Search.WithBody(bytes.NewReader(b)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
