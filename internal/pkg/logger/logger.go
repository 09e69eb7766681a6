package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// LogLevelDebug represents debug log level
	LogLevelDebug = "debug"
	// LogLevelInfo represents info log level
	LogLevelInfo = "info"
	// LogLevelWarn represents warn log level
	LogLevelWarn = "warn"
	// LogLevelError represents error log level
	LogLevelError = "error"
)

// Config represents logger configuration
type Config struct {
	Level       string // debug, info, warn, error, fatal
	Environment string // development, production, test
	LogFile     string // optional file path for logs
	Service     string // process name attached to every event
}

// Init initializes the global logger with the given configuration
func Init(cfg Config) error {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Error().Err(err).Str("file", cfg.LogFile).Msg("Failed to open log file")
		} else {
			writers = append(writers, file)
		}
	}

	if cfg.Environment == "development" || cfg.Environment == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}).With().Str("service", cfg.Service).Caller().Logger()
		return nil
	}

	// JSON output everywhere else
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Caller().
		Logger()

	return nil
}

type contextKey string

const (
	// ContextKey is the key used to store logger in context
	ContextKey   contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// FromContext returns the logger from context or the global logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ContextKey).(*zerolog.Logger); ok {
			return l
		}
	}
	return &log.Logger
}

// WithContext returns a context with the logger attached
func WithContext(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ContextKey, l)
}

// WithRequestID stores the request id and a request-scoped logger on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := FromContext(ctx).With().Str("request_id", requestID).Logger()
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return WithContext(ctx, &l)
}

// RequestID returns the request id stored on ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// LogError logs an error with context
func LogError(ctx context.Context, err error, msg string, fields ...interface{}) {
	event := FromContext(ctx).Error().Err(err)
	addFields(event, fields).Msg(msg)
}

// LogInfo logs an info message with context
func LogInfo(ctx context.Context, msg string, fields ...interface{}) {
	addFields(FromContext(ctx).Info(), fields).Msg(msg)
}

// LogWarn logs a warning message with context
func LogWarn(ctx context.Context, msg string, fields ...interface{}) {
	addFields(FromContext(ctx).Warn(), fields).Msg(msg)
}

// LogDebug logs a debug message with context
func LogDebug(ctx context.Context, msg string, fields ...interface{}) {
	addFields(FromContext(ctx).Debug(), fields).Msg(msg)
}

// addFields adds key/value pairs; a non-string key is skipped.
func addFields(event *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	return event
}
