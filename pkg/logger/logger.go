package logger

import (
	"log/slog"
	"os"
)

// New returns a slog.Logger tagged with the given service name. Production
// environments log JSON; anything else logs human-readable text.
func New(service, environment string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if environment == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", service)
}
