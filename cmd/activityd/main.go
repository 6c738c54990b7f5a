// Command activityd keeps study participants' activities materialized on a
// cron schedule, serializing per-participant work with a distributed lock.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/activity-scheduler/internal/application"
	"github.com/example/activity-scheduler/internal/config"
	"github.com/example/activity-scheduler/internal/lock"
	"github.com/example/activity-scheduler/internal/logging"
	"github.com/example/activity-scheduler/internal/persistence"
	"github.com/example/activity-scheduler/internal/persistence/memory"
	"github.com/example/activity-scheduler/internal/persistence/sqlite"
	"github.com/example/activity-scheduler/internal/scheduler"
)

// storage is the persistence surface the daemon needs from either backend.
type storage interface {
	persistence.ActivityRepository
	persistence.RecurrenceRepository
	persistence.ParticipantRepository
	Migrate(ctx context.Context) error
	Close() error
}

// app holds the wired components and the resources to release on shutdown.
type app struct {
	storage   storage
	service   *application.ActivityService
	locker    *lock.Locker
	refresher *scheduler.Refresher
	closers   []io.Closer
	logger    *slog.Logger
}

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	envFile := flag.String("env", ".env", "optional dotenv file to load before reading the environment")
	flag.Parse()

	bootstrap := logging.New(os.Stdout, slog.LevelInfo)

	if err := config.LoadDotEnv(*envFile); err != nil {
		bootstrap.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("activityd stopped with error", "error", err)
		os.Exit(1)
	}
}

// run wires the daemon and either sweeps once or runs the schedule until ctx ends.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if once {
		stats, err := a.refresher.Sweep(ctx)
		logger.Info("single sweep finished",
			"participants", stats.Participants,
			"inserted", stats.Inserted,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
		)
		return err
	}

	if err := a.refresher.Start(ctx); err != nil {
		return err
	}
	logger.Info("activityd running", "schedule", cfg.RefreshSchedule, "storage", cfg.Storage, "lock", cfg.LockBackend)
	<-ctx.Done()
	a.refresher.Stop()
	return nil
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.storage = store
	a.closers = append(a.closers, store)

	lockStore, err := openLockStore(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.locker = lock.New(lockStore, lock.WithTTL(cfg.LockTTL), lock.WithLogger(logger))
	a.service = application.NewActivityServiceWithLogger(store, application.ActivityServiceConfig{
		LookAhead:      cfg.LookAhead,
		MinimumPerRule: cfg.MinimumPerRule,
		MaxPageSize:    cfg.MaxPageSize,
		Concurrency:    cfg.RefreshConcurrency,
	}, time.Now, logger)
	a.refresher = scheduler.NewRefresher(store, store, a.service, a.locker, scheduler.Config{
		Schedule:    cfg.RefreshSchedule,
		Concurrency: cfg.RefreshConcurrency,
	}, logger)
	return a, nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	var store storage
	switch cfg.Storage {
	case config.StorageMemory:
		store = memory.New()
	case config.StorageSQLite:
		opened, err := sqlite.OpenWithLogger(cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		store = opened
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return store, nil
}

func openLockStore(ctx context.Context, cfg config.Config, a *app) (lock.Store, error) {
	switch cfg.LockBackend {
	case config.LockMemory:
		a.logger.Warn("using in-process locks; run a single instance only")
		return lock.NewMemoryStore(time.Now), nil
	case config.LockRedis:
		client, err := lock.NewRedisClient(ctx, lock.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		return lock.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.LockBackend)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to release resources", "error", err)
	}
}
