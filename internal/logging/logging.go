package logging

import (
	"io"
	"log/slog"
	"os"
)

// DefaultCLILevel keeps interactive commands quiet unless LOG_LEVEL says otherwise.
const DefaultCLILevel = slog.LevelError

// DefaultServerLevel is used by the relay, which is expected to log room traffic.
const DefaultServerLevel = slog.LevelInfo

// LevelFromEnv maps LOG_LEVEL to a slog level, falling back to def.
func LevelFromEnv(def slog.Level) slog.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return def
	}
	return ParseLevel(l, def)
}

// ParseLevel accepts the names used by LOG_LEVEL.
func ParseLevel(name string, def slog.Level) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}

func Init(level slog.Level) {
	InitWriter(os.Stderr, level)
}

// InitWriter installs a text handler writing to w as the default logger.
func InitWriter(w io.Writer, level slog.Level) {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}
