package application

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/internal/domain/entity"
)

// PreferencesStore persists the raw preferences blob per user along with the
// legacy theme record older clients wrote.
type PreferencesStore interface {
	Load(ctx context.Context, userID string) (blob []byte, legacy *entity.LegacyTheme, err error)
	Save(ctx context.Context, userID string, p entity.Preferences) error
	DropLegacy(ctx context.Context, userID string) error
}

type PreferencesService struct {
	Store  PreferencesStore
	Logger *logrus.Logger
}

func NewPreferencesService(store PreferencesStore, logger *logrus.Logger) *PreferencesService {
	return &PreferencesService{Store: store, Logger: logger}
}

// Get reads preferences, upgrading and rewriting older formats.
func (s *PreferencesService) Get(ctx context.Context, userID string) (entity.Preferences, error) {
	blob, legacy, err := s.Store.Load(ctx, userID)
	if err != nil {
		return entity.Preferences{}, err
	}
	p, migrated, err := entity.DecodePreferences(blob, legacy)
	if err != nil {
		return entity.Preferences{}, err
	}
	if migrated {
		if err := s.Store.Save(ctx, userID, p); err != nil {
			return entity.Preferences{}, err
		}
		if legacy != nil {
			if err := s.Store.DropLegacy(ctx, userID); err != nil && s.Logger != nil {
				s.Logger.WithError(err).WithField("user_id", userID).Warn("drop legacy theme failed")
			}
		}
		if s.Logger != nil {
			s.Logger.WithField("user_id", userID).Info("preferences migrated")
		}
	}
	return p, nil
}

// Update applies patch and writes the result immediately.
func (s *PreferencesService) Update(ctx context.Context, userID string, patch entity.PreferencesPatch) (entity.Preferences, error) {
	cur, err := s.Get(ctx, userID)
	if err != nil {
		return entity.Preferences{}, err
	}
	next, err := patch.Apply(cur)
	if err != nil {
		return entity.Preferences{}, err
	}
	if err := s.Store.Save(ctx, userID, next); err != nil {
		return entity.Preferences{}, err
	}
	return next, nil
}
