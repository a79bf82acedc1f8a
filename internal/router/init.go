package router

import (
	"net/url"

	"github.com/oksasatya/homekeep/internal/application"
	"github.com/oksasatya/homekeep/internal/container"
	pginfra "github.com/oksasatya/homekeep/internal/infrastructure/postgres"
	"github.com/oksasatya/homekeep/internal/infrastructure/redisstore"
	handlers "github.com/oksasatya/homekeep/internal/interface/http"
	"github.com/oksasatya/homekeep/internal/router/modules"
)

// Services are the application services built from the container.
type Services struct {
	Auth        *application.AuthService
	Households  *application.HouseholdService
	Tasks       *application.TaskService
	Messages    *application.MessageService
	Preferences *application.PreferencesService
	Session     *application.SessionService
}

// emailQueue avoids handing services a typed nil publisher.
func emailQueue() application.EmailQueue {
	if p := container.GetRabbitPub(); p != nil {
		return p
	}
	return nil
}

func BuildServices() Services {
	cfg := container.GetConfig()
	logger := container.GetLogger()
	pool := container.GetPGPool()
	c := container.GetCache()
	pub := container.GetChangePublisher()

	users := pginfra.NewUserRepository(pool)
	households := application.NewHouseholdService(
		pginfra.NewHouseholdRepository(pool),
		users,
		c,
		pub,
		emailQueue(),
		cfg,
		logger,
	)

	return Services{
		Auth: application.NewAuthService(
			users,
			container.GetJWT(),
			container.GetGCS(),
			cfg.GCSBucket,
			container.GetRedis(),
			c,
			logger,
			emailQueue(),
			cfg,
		),
		Households:  households,
		Tasks:       application.NewTaskService(pginfra.NewTaskRepository(pool), households, c, pub, logger, container.GetES(), cfg.ESTasksIndex),
		Messages:    application.NewMessageService(pginfra.NewMessageRepository(pool), households, c, pub, logger),
		Preferences: application.NewPreferencesService(redisstore.NewPreferencesStore(container.GetRedis()), logger),
		Session:     application.NewSessionService(households),
	}
}

// InitModules initializes all application modules and registers them with the router registry
// This function should be called once during application startup to wire up all modules
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	logger := container.GetLogger()
	jwt := container.GetJWT()
	svc := BuildServices()

	auth := handlers.NewAuthHandler(svc.Auth, logger, cfg.CookieDomain, cfg.CookieSecure)
	r.Add(modules.NewAuthModule(auth, jwt))
	r.Add(modules.NewUserModule(auth, handlers.NewPreferencesHandler(svc.Preferences, logger), jwt))
	r.Add(modules.NewHouseholdModule(
		handlers.NewHouseholdHandler(svc.Households, logger),
		handlers.NewTaskHandler(svc.Tasks, logger),
		handlers.NewMessageHandler(svc.Messages, logger),
		jwt,
	))

	var rt *handlers.RealtimeHandler
	if s := container.GetSyncer(); s != nil {
		rt = handlers.NewRealtimeHandler(s, svc.Session, svc.Households, container.GetCache(), logger, wsOrigins(cfg.CORSOrigins()))
	}
	r.Add(modules.NewSessionModule(handlers.NewSessionHandler(svc.Session, logger), rt, jwt))
	r.Add(modules.NewDebugModule(cfg.DebugMetricsEnabled))
}

// wsOrigins turns CORS origins into host patterns for the websocket check.
func wsOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
