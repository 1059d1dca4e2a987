// Package logginit bootstraps the process-wide structured logger.
package logginit

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a global slog logger. JSON output if
// PIPELINECORE_JSON_LOG=1/true/json, text otherwise.
func Init(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("PIPELINECORE_JSON_LOG"))
	json := mode == "1" || mode == "true" || mode == "json"

	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", json)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("PIPELINECORE_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
