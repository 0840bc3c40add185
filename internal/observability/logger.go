package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/trafficgeo/accident-etl/internal/config"
)

// NewLogger builds the process logger from config: JSON or text handler at
// the configured level, writing to stdout or to the configured log file.
// A log file that cannot be opened falls back to stdout with a warning so
// the run is never lost to a logging problem.
func NewLogger(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	var openErr error
	if cfg.Logs.File != "" {
		f, err := os.OpenFile(cfg.Logs.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			openErr = err
		} else {
			w = f
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if openErr != nil {
		logger.Warn("could not open log file, logging to stdout", "file", cfg.Logs.File, "error", openErr)
	}
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
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
