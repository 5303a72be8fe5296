package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tannerhall/briefd/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogConnectionState logs a connection state transition
func (l *Logger) LogConnectionState(endpoint string, state string, attempt int, err error) {
	if err != nil {
		l.Warn("connection state changed",
			"endpoint", endpoint,
			"state", state,
			"attempt", attempt,
			"error", err)
	} else {
		l.Info("connection state changed",
			"endpoint", endpoint,
			"state", state,
			"attempt", attempt)
	}
}

// LogFrameDropped logs a frame that could not be decoded and was discarded
func (l *Logger) LogFrameDropped(kind string, err error) {
	l.Warn("frame dropped",
		"kind", kind,
		"error", err)
}

// LogEnrichment logs the outcome of a detached enrichment task
func (l *Logger) LogEnrichment(postID string, duration time.Duration, err error) {
	if err != nil {
		l.Warn("enrichment failed",
			"post_id", postID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("enrichment applied",
			"post_id", postID,
			"duration_ms", duration.Milliseconds())
	}
}

// LogUnreadRefresh logs the result of a bulk unread refresh
func (l *Logger) LogUnreadRefresh(requested, resolved int, duration time.Duration) {
	l.Debug("unread refresh completed",
		"requested", requested,
		"resolved", resolved,
		"duration_ms", duration.Milliseconds())
}

// LogSectionFallback logs a composite section that degraded to its fallback text
func (l *Logger) LogSectionFallback(key string, err error) {
	l.Warn("section degraded to fallback",
		"section", key,
		"error", err)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("briefd starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("briefd shutting down",
		"reason", reason)
}

// LogPanic logs a recovered panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Helper functions for common logging patterns

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
