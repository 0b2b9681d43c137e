package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	// Database defaults
	DefaultDBPath = "tallybot.db" // Default SQLite database path

	// Ledger defaults
	DefaultDedupWindow = 90 * time.Second // Replay suppression window

	// Scheduler defaults
	DefaultDedupPurgeSchedule     = "* * * * *" // Every minute
	DefaultSQLMaintenanceSchedule = "0 4 * * *" // Daily at 04:00
)
