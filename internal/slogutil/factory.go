package slogutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"buildgate/internal/config"
)

// LoggerFactory builds the process logger from the logging config section.
// CLI level overrides win over the config level when set.
type LoggerFactory struct {
	config   config.LoggingConfig
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory.
// cliLevel should be nil if no CLI override was specified.
func NewLoggerFactory(cfg config.LoggingConfig, cliLevel *slog.Level) *LoggerFactory {
	return &LoggerFactory{
		config:   cfg,
		cliLevel: cliLevel,
	}
}

// Logger returns a logger writing to w, and additionally to logging.file
// when one is configured.
func (f *LoggerFactory) Logger(w io.Writer) (*slog.Logger, error) {
	level := f.effectiveLevel()
	primary := f.handler(w, level)

	if f.config.File == "" {
		return slog.New(primary), nil
	}

	if err := os.MkdirAll(filepath.Dir(f.config.File), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(f.config.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, file)

	return slog.New(NewTeeHandler(primary, f.handler(file, level))), nil
}

// Close closes all log files opened by the factory.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

func (f *LoggerFactory) handler(w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if f.config.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewHandler(w, opts)
}

func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	return LevelFromString(f.config.Level)
}
