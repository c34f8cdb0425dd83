// Package logging builds the process zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"platecore/internal/config"
)

// New returns a logger writing to w at the configured level. The console
// format is meant for terminals, json for log shippers.
func New(w io.Writer, cfg config.Log) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "platecore").Logger(), nil
}

// Init builds a stderr logger and installs it as the global zerolog logger.
func Init(cfg config.Log) (zerolog.Logger, error) {
	logger, err := New(os.Stderr, cfg)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}
