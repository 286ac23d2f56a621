package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Logger provides structured logging with domain helpers
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stdout at the given level
func NewLogger(level string) *Logger {
	return NewLoggerWithWriter(os.Stdout, ParseLevel(level))
}

// NewLoggerWithWriter creates a JSON logger writing to w
func NewLoggerWithWriter(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(w, level)),
	}
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip, userAgent string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"user_agent", userAgent,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// RoundLogger logs a round lifecycle transition
func (l *Logger) RoundLogger(repository string, roundID int64, event string, attrs ...any) {
	l.Info("Round Event",
		append([]any{
			"repository", repository,
			"round_id", roundID,
			"event", event,
		}, attrs...)...,
	)
}

// LedgerLogger logs a ledger operation
func (l *Logger) LedgerLogger(operation, contract string, duration time.Duration, err error) {
	if err != nil {
		l.Warn("Ledger Call",
			"operation", operation,
			"contract", contract,
			"duration_ms", duration.Milliseconds(),
			"success", false,
			"error", err.Error(),
		)
		return
	}
	l.Info("Ledger Call",
		"operation", operation,
		"contract", contract,
		"duration_ms", duration.Milliseconds(),
		"success", true,
	)
}

// APIErrorLogger logs API errors with context
func (l *Logger) APIErrorLogger(err error, method, path, ip string, statusCode int) {
	_, file, line, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		caller = file + ":" + strconv.Itoa(line)
	}

	l.Error("API Error",
		"error", err.Error(),
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"caller", caller,
	)
}

// ExternalAPILogger logs external API calls
func (l *Logger) ExternalAPILogger(apiName, method, endpoint string, statusCode int, duration time.Duration, success bool) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}

	l.Log(context.Background(), level, "External API Call",
		"api_name", apiName,
		"method", method,
		"endpoint", endpoint,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"success", success,
	)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

var startTime = time.Now()
