package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sipengine/internal/config"
	"sipengine/internal/db"
	"sipengine/internal/handler"
	"sipengine/internal/lease"
	"sipengine/internal/notify"
	gormrepository "sipengine/internal/repository/gorm"
	"sipengine/internal/scheduler"
	"sipengine/internal/service"
	"sipengine/internal/subscription"
)

type app struct {
	store       *gormrepository.Store
	settings    *service.SystemSettingsService
	machine     *subscription.Machine
	coordinator *scheduler.Coordinator
	platform    *notify.Platform
	redis       *lease.Redis
}

func newApp(cfg config.Config, log *zap.Logger, dbConn *db.DB) *app {
	store := gormrepository.New(dbConn.Gorm)
	settings := &service.SystemSettingsService{Repo: store}
	if err := settings.EnsureDefaultSwitches(context.Background()); err != nil {
		log.Warn("init default system switches failed", zap.Error(err))
	}

	notifier, platform := notify.FromConfig(cfg.Notify, log)
	if platform != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := platform.Login(ctx); err != nil {
			log.Warn("platform login failed (will retry on first notify)", zap.Error(err))
		} else {
			log.Info("platform login ok")
		}
		cancel()
	}

	a := &app{store: store, settings: settings, platform: platform}

	var locker lease.Locker = lease.NewMemory()
	if cfg.Redis.Enabled {
		a.redis = lease.NewRedis(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = a.redis
	}

	a.machine = &subscription.Machine{Repo: store, Logger: log.Named("subscription")}
	a.coordinator = &scheduler.Coordinator{
		Repo:     store,
		Machine:  a.machine,
		Notifier: notifier,
		Lease:    locker,
		Flags:    settings,
		Logger:   log.Named("scheduler"),
		Config:   cfg.Scheduler,
	}
	return a
}

func (a *app) auditor() handler.Auditor {
	if a.platform == nil {
		return nil
	}
	return a.platform
}

func (a *app) pingers() map[string]handler.Pinger {
	if a.redis == nil {
		return nil
	}
	return map[string]handler.Pinger{"redis": a.redis}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
