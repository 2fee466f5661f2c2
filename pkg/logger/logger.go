// Package logger builds slog loggers from environment-driven configuration.
//
// JSON output feeds log aggregation in production; text output is for local
// development. The returned logger is plain *slog.Logger so callers depend
// only on the standard library.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config is the environment-driven logger configuration.
type Config struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info"`   // debug, info, warn, error
	Format  Format `env:"LOG_FORMAT" envDefault:"json"`  // json or text
	Service string `env:"LOG_SERVICE" envDefault:""`     // optional static service attribute
	Source  bool   `env:"LOG_SOURCE" envDefault:"false"` // annotate records with source location
}

// New builds a logger writing to w, or os.Stderr when w is nil.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Source}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	case FormatJSON, "":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With(slog.String("service", cfg.Service))
	}
	return log, nil
}

// MustNew works like New but panics on misconfiguration.
// Logger setup failures should prevent startup, not surface at runtime.
func MustNew(cfg Config, w io.Writer) *slog.Logger {
	log, err := New(cfg, w)
	if err != nil {
		panic(err)
	}
	return log
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logger: unknown level %q", s)
	}
}
