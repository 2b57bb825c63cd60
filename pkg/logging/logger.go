package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level ("debug", "info", "warn", "error") and format ("text", "json").
type Config struct {
	Level  string
	Format string
}

// InitLogger builds the process logger and installs it as the slog default.
func InitLogger(cfg Config) *slog.Logger {
	return initLogger(os.Stdout, cfg)
}

func initLogger(w io.Writer, cfg Config) *slog.Logger {
	level, levelOK := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	formatOK := true
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
		formatOK = false
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	if !levelOK {
		logger.Warn("invalid log level specified, defaulting to INFO", "specified_level", cfg.Level)
	}
	if !formatOK {
		logger.Warn("invalid log format specified, defaulting to text", "specified_format", cfg.Format)
	}
	logger.Info("logger initialized", "level", level.String(), "format", cfg.Format)
	return logger
}

func parseLevel(v string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewComponentLogger creates a component-specific logger with context.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", component))
}
