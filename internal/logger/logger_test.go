package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/edgard/tallybot/internal/logger"
)

// NewLogger installs the returned logger as the process default, so these
// tests run sequentially.

func TestNewLogger_LevelGating(t *testing.T) {
	tests := []struct {
		name     string
		levelStr string
		want     slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"unknown falls back to info", "verbose", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := logger.NewLogger(tc.levelStr, "json")
			if !log.Enabled(ctx, tc.want) {
				t.Errorf("NewLogger(%q) does not enable level %v", tc.levelStr, tc.want)
			}
			if log.Enabled(ctx, tc.want-4) {
				t.Errorf("NewLogger(%q) enables level %v below its threshold", tc.levelStr, tc.want-4)
			}
		})
	}
}

func TestNewLogger_Format(t *testing.T) {
	jsonLogger := logger.NewLogger("info", "json")
	if _, ok := jsonLogger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("NewLogger(format=json) handler = %T, want *slog.JSONHandler", jsonLogger.Handler())
	}

	textLogger := logger.NewLogger("info", "text")
	if _, ok := textLogger.Handler().(*slog.JSONHandler); ok {
		t.Error("NewLogger(format=text) produced a JSON handler")
	}

	if slog.Default() != textLogger {
		t.Error("NewLogger did not install the returned logger as default")
	}
}
