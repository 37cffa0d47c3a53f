// Package logger provides the structured logger used across the application
// services. It is a thin wrapper over zerolog exposing a small, stable call
// surface so services never depend on the backend directly.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig controls the logger backend.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" or "console". Empty means json.
	Format string
	// Output is "stdout" or "stderr". Empty means stderr.
	Output string
	// Module tags every event with a module name.
	Module string
}

// Logger is an immutable structured logger. WithField returns a child logger;
// the receiver is never mutated, so a Logger may be shared across goroutines.
type Logger struct {
	zl zerolog.Logger
}

// New constructs a logger from the given config.
func New(cfg LoggingConfig) *Logger {
	var out io.Writer
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	default:
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	zl := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Module != "" {
		zl = zl.Str("module", cfg.Module)
	}
	return &Logger{zl: zl.Logger()}
}

// NewDefault returns a JSON stderr logger tagged with the given module name.
// Services use it as a fallback when no logger is injected.
func NewDefault(module string) *Logger {
	return New(LoggingConfig{Module: module})
}

// WithField returns a child logger carrying an extra key/value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a child logger carrying the error under the "error" key.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().AnErr("error", err).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }
