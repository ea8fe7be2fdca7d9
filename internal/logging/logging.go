// Package logging builds the process logger: text on a terminal, JSON
// otherwise. LOG_FORMAT (text|json) and LOG_LEVEL override the config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"pagesentry/internal/config"
)

// New creates a logger writing to stdout.
func New(cfg config.LogConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

// NewWithWriter creates a logger writing to w. tty selects the text format
// when neither LOG_FORMAT nor the config names one.
func NewWithWriter(cfg config.LogConfig, w io.Writer, tty bool) *slog.Logger {
	format := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if format == "" {
		format = strings.ToLower(cfg.Format)
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = cfg.Level
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	useText := format == "text" || (format == "" && tty)
	if useText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug/info/warn/error to a slog level; unknown values
// are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SetDefault builds the logger and installs it as slog's default.
func SetDefault(cfg config.LogConfig) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}
