package application

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/internal/realtime"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 200
	maxMessageLength   = 2000
)

var ErrMessageBody = apperr.New("23514", "message body must be between 1 and 2000 characters")

type MessageService struct {
	Repo       repo.MessageRepository
	Households *HouseholdService
	Cache      *cache.Client
	Logger     *logrus.Logger
	notifier
}

func NewMessageService(r repo.MessageRepository, households *HouseholdService, c *cache.Client, pub realtime.Publisher, logger *logrus.Logger) *MessageService {
	return &MessageService{
		Repo:       r,
		Households: households,
		Cache:      c,
		Logger:     logger,
		notifier:   notifier{pub: pub, logger: logger},
	}
}

// List returns messages newest first. Only the latest page is cached; older
// pages are read straight through.
func (s *MessageService) List(ctx context.Context, userID, householdID string, before time.Time, limit int) ([]entity.Message, error) {
	if _, err := s.Households.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxMessagePage {
		limit = defaultMessagePage
	}
	if !before.IsZero() {
		return s.Repo.ListRecent(ctx, householdID, before, limit)
	}
	key := append(KeyMessages(householdID), "latest")
	msgs, err := cache.FetchJSON(ctx, s.Cache, key, func(ctx context.Context) ([]entity.Message, error) {
		return s.Repo.ListRecent(ctx, householdID, time.Time{}, maxMessagePage)
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *MessageService) Post(ctx context.Context, userID, householdID, body string) (*entity.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" || len([]rune(body)) > maxMessageLength {
		return nil, ErrMessageBody
	}
	if _, err := s.Households.Authorize(ctx, userID, householdID); err != nil {
		return nil, err
	}
	m := &entity.Message{HouseholdID: householdID, UserID: userID, Body: body}
	if err := s.Repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.Cache.InvalidateAll(ctx, KeyMessages(householdID))
	s.publish(ctx, realtime.ResourceMessages, realtime.EventInsert, m)
	return m, nil
}
