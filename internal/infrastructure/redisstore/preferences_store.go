package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/homekeep/internal/domain/entity"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

func prefsKey(uid string) string { return "prefs:" + uid }
func themeKey(uid string) string { return "theme:" + uid }

// PreferencesStore keeps the preferences blob and the legacy theme record as
// plain Redis strings without expiry.
type PreferencesStore struct {
	rdb *redis.Client
}

func NewPreferencesStore(rdb *redis.Client) *PreferencesStore {
	return &PreferencesStore{rdb: rdb}
}

func (s *PreferencesStore) Load(ctx context.Context, userID string) ([]byte, *entity.LegacyTheme, error) {
	blob, err := helpers.RedisGetRaw(ctx, s.rdb, prefsKey(userID))
	if err != nil {
		return nil, nil, err
	}
	var legacy entity.LegacyTheme
	ok, err := helpers.RedisGetJSON(ctx, s.rdb, themeKey(userID), &legacy)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return blob, nil, nil
	}
	return blob, &legacy, nil
}

func (s *PreferencesStore) Save(ctx context.Context, userID string, p entity.Preferences) error {
	return helpers.RedisSetJSON(ctx, s.rdb, prefsKey(userID), p, 0)
}

func (s *PreferencesStore) DropLegacy(ctx context.Context, userID string) error {
	return helpers.RedisDel(ctx, s.rdb, themeKey(userID))
}
