// Package container holds the process-wide singletons cmd/main builds at
// startup so the router can wire modules without threading every client
// through constructors.
package container

import (
	"sync"

	"cloud.google.com/go/storage"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/realtime"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

type deps struct {
	cfg    *config.Config
	logger *logrus.Logger
	pg     *pgxpool.Pool
	redis  *redis.Client
	gcs    *storage.Client
	jwt    *helpers.JWTManager
	rabbit *helpers.RabbitPublisher
	es     *elasticsearch.Client

	cache     *cache.Client
	syncer    *realtime.Syncer
	changePub realtime.Publisher
}

var (
	mu sync.RWMutex
	d  deps
)

func set(fn func(*deps)) {
	mu.Lock()
	fn(&d)
	mu.Unlock()
}

func get() deps {
	mu.RLock()
	defer mu.RUnlock()
	return d
}

// Reset clears every registered dependency.
func Reset() { set(func(x *deps) { *x = deps{} }) }

func SetConfig(c *config.Config) { set(func(x *deps) { x.cfg = c }) }

// GetConfig falls back to the environment when main never set one.
func GetConfig() *config.Config {
	if c := get().cfg; c != nil {
		return c
	}
	return config.Load()
}

func SetLogger(l *logrus.Logger) { set(func(x *deps) { x.logger = l }) }

func GetLogger() *logrus.Logger {
	if l := get().logger; l != nil {
		return l
	}
	return logrus.StandardLogger()
}

func SetPGPool(p *pgxpool.Pool) { set(func(x *deps) { x.pg = p }) }
func GetPGPool() *pgxpool.Pool  { return get().pg }

func SetRedis(r *redis.Client) { set(func(x *deps) { x.redis = r }) }
func GetRedis() *redis.Client  { return get().redis }

func SetGCS(s *storage.Client) { set(func(x *deps) { x.gcs = s }) }
func GetGCS() *storage.Client  { return get().gcs }

func SetJWT(m *helpers.JWTManager) { set(func(x *deps) { x.jwt = m }) }
func GetJWT() *helpers.JWTManager  { return get().jwt }

func SetRabbitPub(p *helpers.RabbitPublisher) { set(func(x *deps) { x.rabbit = p }) }
func GetRabbitPub() *helpers.RabbitPublisher  { return get().rabbit }

func SetES(c *elasticsearch.Client) { set(func(x *deps) { x.es = c }) }
func GetES() *elasticsearch.Client  { return get().es }

func SetCache(c *cache.Client) { set(func(x *deps) { x.cache = c }) }
func GetCache() *cache.Client  { return get().cache }

func SetSyncer(s *realtime.Syncer) { set(func(x *deps) { x.syncer = s }) }
func GetSyncer() *realtime.Syncer  { return get().syncer }

func SetChangePublisher(p realtime.Publisher) { set(func(x *deps) { x.changePub = p }) }

// GetChangePublisher never returns nil; without a configured publisher the
// database trigger is the only source of change events.
func GetChangePublisher() realtime.Publisher {
	if p := get().changePub; p != nil {
		return p
	}
	return realtime.NoopPublisher{}
}
