// Package logger provides structured logging for postsible.
//
// It wraps log/slog with package-level helpers and supports four outputs:
// stderr, stdout, syslog and a file path. File output is rotated with
// lumberjack.
//
//	closer, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer closer.Close()
//
//	logger.Info("AccountStore: domain added", "domain", name)
//
// Passwords and password hashes must never be passed as attributes.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"

	"github.com/grufocom/postsible/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalLogger *slog.Logger

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// syslogHandler adapts a syslog.Writer to slog.Handler
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
	attrs := make([]any, 0, len(h.attrs)*2+r.NumAttrs()*2)
	for _, a := range h.attrs {
		attrs = append(attrs, a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key, a.Value.Any())
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s %v", msg, attrs)
	}

	switch {
	case r.Level >= slog.LevelError:
		return h.writer.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.writer.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.writer.Info(msg)
	default:
		return h.writer.Debug(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &syslogHandler{writer: h.writer, level: h.level, attrs: merged}
}

// Groups are flattened; syslog lines carry no structure.
func (h *syslogHandler) WithGroup(string) slog.Handler {
	return h
}

// Initialize sets up the global logger. The returned closer releases the
// log file when output is a file path and is a no-op otherwise.
func Initialize(cfg config.LoggingConfig) (io.Closer, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var closer io.Closer = nopCloser{}
	var handler slog.Handler

	switch output {
	case "stdout":
		handler = newHandler(os.Stdout, cfg.Format, opts)
	case "stderr":
		handler = newHandler(os.Stderr, cfg.Format, opts)
	case "syslog":
		if runtime.GOOS == "windows" {
			fmt.Fprintf(os.Stderr, "WARNING: syslog is not supported on Windows. Falling back to stderr.\n")
			handler = newHandler(os.Stderr, cfg.Format, opts)
			break
		}
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "postsible"
		}
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v. Falling back to stderr.\n", err)
			handler = newHandler(os.Stderr, cfg.Format, opts)
			break
		}
		handler = &syslogHandler{writer: w, level: level}
	default:
		// Anything else is a file path.
		lj := &lumberjack.Logger{
			Filename:   output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		// Open eagerly so a bad path is reported at startup.
		if _, err := lj.Write(nil); err != nil {
			return nil, fmt.Errorf("failed to open log file '%s': %w", output, err)
		}
		handler = newHandler(lj, cfg.Format, opts)
		closer = lj
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return closer, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a configured level name to slog.Level. Unknown names
// map to info.
func ParseLevel(level string) slog.Level {
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

// SetOutput replaces the global logger with one writing text to w. Used by
// tests that assert on log lines.
func SetOutput(w io.Writer, level slog.Level) {
	globalLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func Infof(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}
