// Package app wires the ledger daemon together and manages the lifecycle of
// its components.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/tallybot/internal/config"
	"github.com/edgard/tallybot/internal/database"
	"github.com/edgard/tallybot/internal/ledger"
)

// App owns the long-running pieces of the ledger service: the database,
// the ledger engine, and the maintenance scheduler.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	ledger    *ledger.Service
	scheduler *Scheduler
}

// NewApp creates the application with all required dependencies.
func NewApp(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	ledgerService *ledger.Service,
	scheduler *Scheduler,
) *App {
	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		db:        db,
		store:     store,
		ledger:    ledgerService,
		scheduler: scheduler,
	}
}

// Ledger exposes the ledger engine to whatever transport embeds this app.
func (a *App) Ledger() *ledger.Service {
	return a.ledger
}

// Run starts the app's components and blocks until the context is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Error("Database is not reachable", "error", err)
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return err
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
