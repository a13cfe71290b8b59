package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// New builds a slog logger rendered by the charm logger.
// Unknown levels fall back to info.
func New(w io.Writer, level string, json bool) *slog.Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	opts := charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	}
	if json {
		opts.Formatter = charmlog.JSONFormatter
	}
	return slog.New(charmlog.NewWithOptions(w, opts))
}

// Setup installs the process-wide default logger writing to stderr.
func Setup(level string, json bool) *slog.Logger {
	l := New(os.Stderr, level, json)
	slog.SetDefault(l)
	return l
}
