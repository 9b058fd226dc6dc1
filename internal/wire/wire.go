// Package wire assembles the escalation pipeline from configuration. The
// worker, the API and the operator CLI all build through it so they share one
// view of the queue, the ledger and the ATS database.
package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"followup-escalator/internal/archive"
	"followup-escalator/internal/config"
	"followup-escalator/internal/escalation"
	"followup-escalator/internal/models"
	"followup-escalator/internal/notify"
	"followup-escalator/internal/queue"
	"followup-escalator/internal/ratelimit"
	"followup-escalator/internal/repository"
	"followup-escalator/internal/store"
	"followup-escalator/internal/worker"
)

// App holds every long-lived component. Close releases the connections.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Redis  *redis.Client
	Ledger *store.Store
	DB     *gorm.DB
	Queue  *queue.RedisQueue

	FollowUps     *repository.FollowUpRepository
	Users         *repository.UserRepository
	Notifications *repository.NotificationRepository
	Activity      *repository.ActivityRepository

	Limiter   ratelimit.Limiter
	Producer  *worker.Producer
	Scanner   *escalation.Scanner
	Escalator *escalation.Worker
	Processor *worker.Processor
	Janitor   *worker.Janitor
}

// Build connects to Redis, the job ledger and the ATS database and wires the
// pipeline on top of them. Migrations are not run here; see Migrate.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	app.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	app.Queue = queue.NewRedisQueue(app.Redis, queue.Options{
		Name:              cfg.QueueName,
		DLQName:           cfg.DLQName,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})

	ledger, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect job ledger: %w", err)
	}
	app.Ledger = ledger

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect ats database: %w", err)
	}
	app.DB = db
	app.FollowUps = repository.NewFollowUpRepository(db)
	app.Users = repository.NewUserRepository(db)
	app.Notifications = repository.NewNotificationRepository(db)
	app.Activity = repository.NewActivityRepository(db)

	app.Limiter = newLimiter(cfg, app.Redis)
	app.Producer = worker.NewProducer(app.Ledger, app.Queue, cfg.MaxAttempts, nil, logger)
	app.Scanner = escalation.NewScanner(app.FollowUps, app.Producer, nil, logger)

	deps := escalation.WorkerDeps{
		Tasks:    app.FollowUps,
		Org:      app.Users,
		Notifier: notify.NewInApp(app.Notifications),
		Activity: app.Activity,
		Logger:   logger,
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram alerts disabled", "error", err)
		} else {
			deps.Alerter = tg
		}
	}
	app.Escalator = escalation.NewWorker(deps, escalation.Policy{
		ManagerThresholdHours: cfg.ManagerThresholdHours,
		AdminThresholdHours:   cfg.AdminThresholdHours,
	})

	app.Processor = worker.NewProcessor(cfg, app.Queue, app.Ledger, app.Limiter,
		worker.WithWorkerID(workerID()),
		worker.WithLogger(logger),
	)
	app.Processor.RegisterHandler(models.JobTypeEscalationCheck, app.Escalator.Handle)

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init archive: %w", err)
	}
	app.Janitor = worker.NewJanitor(app.Ledger, app.Queue, archiver, cfg.RetentionOnSuccess, cfg.RetentionOnFailure, nil, logger)

	return app, nil
}

// Migrate applies the ledger migrations and the ATS schema.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.Ledger.RunMigrations(ctx); err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	if err := repository.AutoMigrate(a.DB); err != nil {
		return fmt.Errorf("ats migrations: %w", err)
	}
	return nil
}

// Ping checks Redis and the job ledger.
func (a *App) Ping(ctx context.Context) error {
	return errors.Join(a.Queue.Ping(ctx), a.Ledger.Ping(ctx))
}

func (a *App) Close() {
	if a.Ledger != nil {
		a.Ledger.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

func newLimiter(cfg config.Config, client *redis.Client) ratelimit.Limiter {
	if cfg.RateLimitBackend == "local" {
		return ratelimit.NewLocal(cfg.RateLimitMax, cfg.RateLimitWindow, nil)
	}
	return ratelimit.NewSlidingWindow(client, cfg.RateLimitMax, cfg.RateLimitWindow)
}

// workerID prefers WORKER_ID, then the hostname, then the pid.
func workerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
