package repository

import (
	"context"
	"time"

	"github.com/oksasatya/homekeep/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, m *entity.Message) error
	// ListRecent returns up to limit messages older than before, newest first.
	// A zero before means now.
	ListRecent(ctx context.Context, householdID string, before time.Time, limit int) ([]entity.Message, error)
}
