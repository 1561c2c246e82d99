package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the global logger instance. It defaults to slog's default logger so
// library code and tests can log before InitLogger runs.
var L = slog.Default()

// InitLogger initializes structured JSON logging for the process. Call once
// at startup, after loading config.
func InitLogger(logLevelStr string) {
	var level slog.Level
	switch strings.ToLower(logLevelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		slog.Warn("invalid LOG_LEVEL specified, defaulting to INFO", "configuredLevel", logLevelStr)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	L = slog.New(handler)
	slog.SetDefault(L)
	L.Info("logger initialized", "level", level.String())
}
