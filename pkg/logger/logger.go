// Package logger provides the application-wide slog construction and the
// shared logging attrs used across domain packages.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the loggers to the fx graph.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)

// NewLogger builds the process logger from the environment.
//
// LOG_LEVEL selects the minimum level (debug, info, warn/warning, error;
// case-insensitive; anything else falls back to info). GO_ENV=production
// switches to the JSON handler for log shippers; everything else gets the
// human-readable text handler.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope returns the standard scope attr used to tag a logger with the
// component it belongs to, e.g. log.With(logger.Scope("presence")).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns the standard error attr.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
