package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/container"
	pginfra "github.com/oksasatya/homekeep/internal/infrastructure/postgres"
	"github.com/oksasatya/homekeep/internal/interface/middleware"
	"github.com/oksasatya/homekeep/internal/realtime"
	"github.com/oksasatya/homekeep/internal/router"
	"github.com/oksasatya/homekeep/pkg/helpers"
	"github.com/oksasatya/homekeep/pkg/validation"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	gin.SetMode(cfg.GinMode)
	validation.Init()

	ctx := context.Background()

	// Initialize Postgres pool
	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife, pginfra.WithNotifyChannel(cfg.RealtimePGChannel))
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	// Run migrations using database/sql with pgx stdlib
	if err := runMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}

	// Redis
	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rdb.Close() }()

	// Query cache
	var store cache.Store = cache.NewMemoryStore()
	if cfg.CacheBackend == "redis" {
		store = cache.NewRedisStore(rdb, cfg.CacheTTL)
	}
	cacheClient := cache.NewClient(store, logger)

	// Realtime change feed
	feed, changePub, closeFeed, err := openFeed(cfg, pool, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open realtime feed")
	}
	defer closeFeed()
	policy := realtime.DefaultReconnectPolicy()
	policy.MaxTries = uint(cfg.RealtimeRetryMax)
	syncer := realtime.NewSyncer(feed, cacheClient, logger, policy)
	defer syncer.Close()
	watches, err := application.WatchChanges(ctx, syncer, application.DefaultWatchPolicy())
	if err != nil {
		// requests still invalidate what they write; only other instances' writes are missed
		logger.WithError(err).Warn("cross-instance cache sync disabled")
	}

	// GCS is optional; avatar uploads answer 503 without it
	var gcsClient *storage.Client
	if cfg.GCSBucket != "" {
		gcsClient, err = helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to init GCS client")
		}
		defer func() { _ = gcsClient.Close() }()
	}

	// Email queue
	if cfg.MailSendEnabled {
		pub, err := helpers.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEmailQueue)
		if err != nil {
			logger.WithError(err).Warn("rabbitmq unavailable, emails disabled")
		} else {
			container.SetRabbitPub(pub)
			defer pub.Close()
		}
	}

	// Task search
	if addrs := cfg.ESAddrs(); len(addrs) > 0 {
		es, err := helpers.NewESClient(addrs, cfg.ElasticsearchUser, cfg.ElasticsearchPass)
		if err != nil {
			logger.WithError(err).Warn("elasticsearch unavailable, task search disabled")
		} else if err := helpers.EnsureIndex(ctx, es, cfg.ESTasksIndex, helpers.TaskIndexMapping); err != nil {
			logger.WithError(err).Warn("elasticsearch index not ready, task search disabled")
		} else {
			container.SetES(es)
		}
	}

	// JWT
	jwtManager := helpers.NewJWTManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)

	// Provide infra singletons to container for registry auto-wiring
	container.SetConfig(cfg)
	container.SetLogger(logger)
	container.SetPGPool(pool)
	container.SetRedis(rdb)
	container.SetGCS(gcsClient)
	container.SetJWT(jwtManager)
	container.SetCache(cacheClient)
	container.SetSyncer(syncer)
	container.SetChangePublisher(changePub)

	// Gin engine and global middleware
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RealIP())
	r.Use(middleware.RequestIDMiddleware())
	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins, corsCfg.AllowCredentials = true, false
	}
	r.Use(cors.New(corsCfg))
	if cfg.HTTPLogEnabled {
		r.Use(middleware.AccessLog(logger))
	}

	// Registry: auto-register modules using container
	reg := router.NewRegistry(r)
	router.InitModules(reg)
	reg.RegisterAll()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "realtime": cfg.RealtimeBackend, "cache": cfg.CacheBackend}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("listen")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if watches != nil {
		watches.Close()
	}
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	logger.Info("server exited properly")
}

// openFeed returns the change feed the syncer listens on and the publisher
// services emit through. With Postgres the trigger publishes, so services
// get a no-op publisher.
func openFeed(cfg *config.Config, pool *pgxpool.Pool, logger *logrus.Logger) (realtime.Feed, realtime.Publisher, func(), error) {
	switch cfg.RealtimeBackend {
	case "nats":
		feed, err := realtime.NewNATSFeed(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		pub, err := realtime.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			_ = feed.Close()
			return nil, nil, nil, err
		}
		return feed, pub, func() { _ = pub.Close(); _ = feed.Close() }, nil
	default:
		feed := realtime.NewPGFeed(pool, cfg.RealtimePGChannel, logger)
		return feed, realtime.NoopPublisher{}, feed.Close, nil
	}
}

func runMigrations(dsn string, migrationsDir string, logger *logrus.Logger) error {
	// Open sql DB via pgx stdlib
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsDir), "postgres", driver)
	if err != nil {
		return err
	}
	logger.Info("running migrations")
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migrations to run")
		return nil
	}
	return err
}
