// Package logging configures the global zerolog logger for MarkAI.
// Interactive commands log to the configured file so structured output never
// interleaves with chat output on the terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. When file is non-empty, all output goes
// there; otherwise it goes to stderr. The returned closer is nil when logging
// to stderr.
func Setup(level, file string) (io.Closer, error) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if file == "" {
		writer := zerolog.ConsoleWriter{Out: os.Stderr}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger()
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	writer := zerolog.ConsoleWriter{Out: f, NoColor: true}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger

	return f, nil
}

// ParseLevel maps a config level string to a zerolog level. Unknown strings
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
