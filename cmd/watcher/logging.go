package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/wallet-watch/internal/config"
)

// newLogger builds the process logger from the logging section.
func newLogger(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q", cfg.Format)
	}
}
