package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
)

// NewLogger builds the process logger. LOG_FORMAT=text selects a colourised
// handler for local development; anything else logs JSON to stdout.
func NewLogger(cfg *config.Config, app string) *slog.Logger {
	return newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("app", app)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
