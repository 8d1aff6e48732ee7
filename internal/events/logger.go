// Package events provides structured logging for the agent.
package events

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ParseLevel converts a level name (debug, info, warn/warning, error) to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a slog.Logger writing to w in the given format ("json" or "text").
// Debug logs include the source location.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// EventLogger logs the agent's key events with the host identity attached.
type EventLogger struct {
	logger   *slog.Logger
	hostUUID string
	hostname string
}

// NewEventLogger creates a new EventLogger on top of logger.
// It includes base attributes: host_uuid and hostname.
func NewEventLogger(logger *slog.Logger, hostUUID, hostname string) *EventLogger {
	return &EventLogger{
		logger: logger.With(
			"host_uuid", hostUUID,
			"hostname", hostname,
		),
		hostUUID: hostUUID,
		hostname: hostname,
	}
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(hostUUID, hostname string, w io.Writer) *EventLogger {
	return NewEventLogger(NewLogger(w, slog.LevelDebug, "json"), hostUUID, hostname)
}

// Logger returns the underlying logger with the base attributes.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// LogFieldFailed logs a metric source that failed during a harvest.
// event: "harvest_field_failed"
// Attributes: field, error
func (el *EventLogger) LogFieldFailed(field string, err error) {
	el.logger.Warn("harvest_field_failed",
		"field", field,
		"error", err,
	)
}

// LogSyncResult logs the outcome of a flush attempt.
// event: "sync_result"
// Attributes: tick, batch_size, status, duration_ms, error (on failure)
func (el *EventLogger) LogSyncResult(tick int64, batchSize int, status string, duration time.Duration, err error) {
	if err != nil {
		el.logger.Warn("sync_result",
			"tick", tick,
			"batch_size", batchSize,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return
	}
	el.logger.Info("sync_result",
		"tick", tick,
		"batch_size", batchSize,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogReregister logs the one-shot host re-registration after a 412.
// event: "reregister"
// Attributes: ok, error
func (el *EventLogger) LogReregister(err error) {
	if err != nil {
		el.logger.Error("reregister", "ok", false, "error", err)
		return
	}
	el.logger.Warn("reregister", "ok", true)
}

// LogCacheDrained logs snapshots dropped to bound memory.
// event: "cache_drained"
// Attributes: drained, remaining, cache_size
func (el *EventLogger) LogCacheDrained(drained, remaining int, cacheSize int64) {
	el.logger.Warn("cache_drained",
		"drained", drained,
		"remaining", remaining,
		"cache_size", cacheSize,
	)
}

// LogTickOverrun logs a tick whose work took longer than the harvest interval.
// event: "tick_overrun"
// Attributes: tick, elapsed_ms, interval_ms
func (el *EventLogger) LogTickOverrun(tick int64, elapsed, interval time.Duration) {
	el.logger.Warn("tick_overrun",
		"tick", tick,
		"elapsed_ms", elapsed.Milliseconds(),
		"interval_ms", interval.Milliseconds(),
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex

	noopOnce   sync.Once
	noopLogger *EventLogger
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		noopLogger = NewEventLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)), "", "")
	})
	return noopLogger
}
