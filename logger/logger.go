// Package logger provides the diagnostic stream of the content filter.
//
// The filter talks to smtpd over stdin/stdout, so every diagnostic goes to
// stderr, a file, or syslog. The package wraps log/slog with a global logger
// and package-level helpers:
//
//	logger.Info("Allowing", "session", id, "token", token)
//	logger.Warn("Malformed eMail", "size", size, "digest", digest)
//
// Two formats are supported: "console" (slog text handler) and "json".
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"

	"github.com/migadu/filter-contentstrings/config"
)

const syslogTag = "filter-contentstrings"

var globalLogger *slog.Logger

// syslogHandler wraps syslog.Writer to implement slog.Handler
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Level
	attrs  []slog.Attr
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		attrs := make([]any, 0, len(h.attrs)*2+r.NumAttrs()*2)
		for _, a := range h.attrs {
			attrs = append(attrs, a.Key, a.Value.Any())
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, a.Key, a.Value.Any())
			return true
		})
		msg = fmt.Sprintf("%s %v", msg, attrs)
	}

	switch r.Level {
	case slog.LevelDebug:
		return h.writer.Debug(msg)
	case slog.LevelWarn:
		return h.writer.Warning(msg)
	case slog.LevelError:
		return h.writer.Err(msg)
	default:
		return h.writer.Info(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &syslogHandler{writer: h.writer, level: h.level, attrs: newAttrs}
}

// Groups are flattened; syslog lines carry plain key/value pairs.
func (h *syslogHandler) WithGroup(string) slog.Handler {
	return h
}

// Initialize sets up the global logger based on configuration. stderr is the
// writer used for the "stderr" output and as the fallback when syslog or the
// log file cannot be opened. The returned file, if any, must be closed by the caller.
func Initialize(cfg config.LoggingConfig, stderr io.Writer) (*os.File, error) {
	level := parseLogLevel(cfg.Level)

	switch cfg.Output {
	case "", "stderr":
		InitializeWriter(stderr, cfg.Format, cfg.Level)
		return nil, nil

	case "stdout":
		return nil, fmt.Errorf("log output stdout is reserved for the filter protocol")

	case "syslog":
		if runtime.GOOS == "windows" {
			InitializeWriter(stderr, cfg.Format, cfg.Level)
			return nil, fmt.Errorf("syslog is not supported on windows, logging to stderr")
		}
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, syslogTag)
		if err != nil {
			InitializeWriter(stderr, cfg.Format, cfg.Level)
			return nil, fmt.Errorf("failed to connect to syslog, logging to stderr: %w", err)
		}
		setGlobal(slog.New(&syslogHandler{writer: w, level: level}))
		return nil, nil

	default:
		logFile, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			InitializeWriter(stderr, cfg.Format, cfg.Level)
			return nil, fmt.Errorf("failed to open log file '%s', logging to stderr: %w", cfg.Output, err)
		}
		InitializeWriter(logFile, cfg.Format, cfg.Level)
		return logFile, nil
	}
}

// InitializeWriter points the global logger at w.
func InitializeWriter(w io.Writer, format, level string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	setGlobal(slog.New(handler))
}

func setGlobal(l *slog.Logger) {
	globalLogger = l
	slog.SetDefault(l)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
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

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Info logs an info message with optional key-value pairs
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs a debug message with optional key-value pairs
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs a warning message with optional key-value pairs
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
