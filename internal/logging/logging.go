// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q: %w", name, err)
	}
	return level, nil
}

// New returns a logger writing to w. Format is "json" or "text".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return slog.New(h), nil
}

// Setup installs a logger as slog's default and tags it with the service
// name and version.
func Setup(w io.Writer, level, format, service, version string) (*slog.Logger, error) {
	logger, err := New(w, level, format)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", service, "version", version)
	slog.SetDefault(logger)
	return logger, nil
}
