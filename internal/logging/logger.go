// Package logging builds the structured loggers used across the plant.
package logging

import (
	"log/slog"
	"os"
)

// New creates a JSON structured logger tagged with a component name.
func New(component string) *slog.Logger {
	level := levelFromString(os.Getenv("LOG_LEVEL"))

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("component", component))
}

func levelFromString(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
