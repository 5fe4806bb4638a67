package logger

import (
	"log/slog"
	"os"
)

// New returns the default structured logger for the portal. Services receive
// it through options so tests can inject their own.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
