package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"efbgps/internal/config"
)

// newLogger writes to out in the configured format. The tee, when non-nil,
// always receives JSON lines so /api/logs stays machine readable.
func newLogger(cfg config.LogConfig, out io.Writer, tee io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if tee != nil {
		w = zerolog.MultiLevelWriter(w, tee)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
