// Package tasks implements the scheduled maintenance tasks of the ledger
// service: task definitions, dependencies, and registration.
package tasks

import (
	"log/slog"

	"github.com/edgard/tallybot/internal/config"
	"github.com/edgard/tallybot/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
