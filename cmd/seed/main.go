package main

import (
	"context"
	"errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	pginfra "github.com/oksasatya/homekeep/internal/infrastructure/postgres"
	"github.com/oksasatya/homekeep/pkg/helpers"
)

const (
	demoEmail     = "demo@homekeep.local"
	demoPassword  = "password123"
	demoName      = "Demo User"
	demoHousehold = "Demo Home"
	demoInvite    = "DEMO23"
)

var demoTasks = []entity.Task{
	{Title: "Take out the bins", Points: 5, Recurrence: entity.RecurWeekly},
	{Title: "Water the plants", Points: 2, Recurrence: entity.RecurDaily},
	{Title: "Fix the squeaky door", Description: "Hinge on the bathroom door", Points: 10, Recurrence: entity.RecurNone},
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env, cfg.LogLevel)
	ctx := context.Background()

	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), 2, 1, cfg.DBMaxConnLife, pginfra.WithNotifyChannel(cfg.RealtimePGChannel))
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	users := pginfra.NewUserRepository(pool)
	households := pginfra.NewHouseholdRepository(pool)
	tasks := pginfra.NewTaskRepository(pool)

	u, err := users.GetByEmail(ctx, demoEmail)
	if errors.Is(err, repo.ErrNotFound) {
		hash, hErr := helpers.HashPassword(demoPassword)
		if hErr != nil {
			logger.WithError(hErr).Fatal("failed to hash password")
		}
		u = &entity.User{Email: demoEmail, Password: hash, Name: demoName}
		err = users.Create(ctx, u)
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to seed user")
	}
	if err := users.SetVerified(ctx, u.ID); err != nil {
		logger.WithError(err).Fatal("failed to verify user")
	}
	logger.WithFields(logrus.Fields{"id": u.ID, "email": demoEmail, "password": demoPassword}).Info("seeded user")

	h, _, err := households.CurrentForUser(ctx, u.ID)
	if err == nil {
		logger.WithFields(logrus.Fields{"household_id": h.ID, "invite_code": h.InviteCode}).Info("household already seeded")
		return
	}
	if !errors.Is(err, repo.ErrNotFound) {
		logger.WithError(err).Fatal("failed to look up household")
	}

	h = &entity.Household{Name: demoHousehold, InviteCode: demoInvite, CreatedBy: u.ID}
	if _, err := households.Create(ctx, h); err != nil {
		logger.WithError(err).Fatal("failed to seed household")
	}
	for i := range demoTasks {
		t := demoTasks[i]
		t.HouseholdID, t.CreatedBy, t.Status = h.ID, u.ID, entity.TaskPending
		t.AssigneeID = &u.ID
		if err := tasks.Create(ctx, &t); err != nil {
			logger.WithError(err).WithField("title", t.Title).Fatal("failed to seed task")
		}
	}
	logger.WithFields(logrus.Fields{"household_id": h.ID, "invite_code": demoInvite, "tasks": len(demoTasks)}).Info("seeded household")
}
