package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hazz-dev/canary/internal/config"
	"github.com/hazz-dev/canary/internal/mail"
	"github.com/hazz-dev/canary/internal/monitor"
	"github.com/hazz-dev/canary/internal/notify"
	"github.com/hazz-dev/canary/internal/probe"
	"github.com/hazz-dev/canary/internal/storage"
	"github.com/hazz-dev/canary/internal/storage/memory"
	"github.com/hazz-dev/canary/internal/storage/postgres"
	"github.com/hazz-dev/canary/internal/storage/sqldb"
)

// app is the wired monitoring engine shared by serve and run.
type app struct {
	store  storage.Store
	runner *monitor.Runner
}

// openStore opens the backend selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		db, err := sqldb.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// buildApp opens and seeds the store, then assembles mailer, dispatcher, pipeline and runner.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a, err := assemble(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func assemble(ctx context.Context, cfg *config.Config, store storage.Store, logger *zap.Logger) (*app, error) {
	if err := storage.Seed(ctx, store, cfg.Fixtures()); err != nil {
		return nil, err
	}

	mailer, err := mail.New(cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("building mailer: %w", err)
	}
	dispatcher := notify.NewDispatcher(store, mailer, logger)
	pipeline := monitor.NewPipeline(store, probe.NewExecutor(nil), dispatcher, logger)
	runner := monitor.NewRunner(store, pipeline, cfg.Runner.Concurrency, logger)

	return &app{store: store, runner: runner}, nil
}
