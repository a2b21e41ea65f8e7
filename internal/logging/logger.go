package logging

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Init initializes the structured logger
func Init(lvl string) error {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	SetLevel(lvl)
	config.Level = level

	// Development mode for better readability during development
	if os.Getenv("HYPNOS_ENV") == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	l, err := config.Build()
	if err != nil {
		return err
	}
	logger.Store(l)
	return nil
}

// SetLevel changes the level of the logger built by Init. Unknown levels
// fall back to info.
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
}

// Level reports the current level of the logger built by Init.
func Level() zapcore.Level {
	return level.Level()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger.CompareAndSwap(nil, l)
	return logger.Load()
}

// ReplaceLogger installs l as the global logger and returns a func that
// restores the previous one.
func ReplaceLogger(l *zap.Logger) func() {
	prev := logger.Swap(l)
	return func() { logger.Store(prev) }
}

// withTrace appends the trace and span IDs of the span in ctx, if any.
func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// LogHTTPRequest logs HTTP request with structured fields
func LogHTTPRequest(ctx context.Context, method, path, route string, status int, latency time.Duration, size int64) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Int64("size_bytes", size),
	}
	GetLogger().Info("http_request", withTrace(ctx, fields)...)
}

// LogFlagToggled logs a developer toggle operation. changed is false when
// the flag already had the requested value.
func LogFlagToggled(ctx context.Context, flag, action string, value, changed bool) {
	fields := []zap.Field{
		zap.String("flag", flag),
		zap.String("action", action),
		zap.Bool("value", value),
		zap.Bool("changed", changed),
	}
	GetLogger().Info("flag_toggled", withTrace(ctx, fields)...)
}

// LogFaultInjected logs a fault applied to a guarded request
func LogFaultInjected(ctx context.Context, kind, path string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("kind", kind),
		zap.String("path", path),
	}, fields...)
	GetLogger().Warn("fault_injected", withTrace(ctx, fields)...)
}

// LogSleepInterrupted logs a sleeping request whose client went away
func LogSleepInterrupted(ctx context.Context, path string, slept time.Duration, err error) {
	fields := []zap.Field{
		zap.String("path", path),
		zap.Duration("slept", slept),
		zap.Error(err),
	}
	GetLogger().Info("sleep_interrupted", withTrace(ctx, fields)...)
}

// LogUpstreamError logs upstream errors with context
func LogUpstreamError(ctx context.Context, upstream string, err error) {
	fields := []zap.Field{
		zap.String("upstream", upstream),
		zap.Error(err),
	}
	GetLogger().Error("upstream_error", withTrace(ctx, fields)...)
}

// LogRateLimited logs rate limiting events
func LogRateLimited(ctx context.Context, route string) {
	fields := []zap.Field{
		zap.String("route", route),
		zap.String("event", "rate_limited"),
	}
	GetLogger().Warn("rate_limited", withTrace(ctx, fields)...)
}

// LogHTTPServerStart logs HTTP server startup
func LogHTTPServerStart(addr string, tls bool) {
	GetLogger().Info("http_server_start",
		zap.String("listen_addr", addr),
		zap.Bool("tls", tls),
	)
}

// LogConfigReloaded logs a hot reload of the config file
func LogConfigReloaded(path string, fields map[string]interface{}) {
	GetLogger().Info("config_reloaded", append(toFields(fields), zap.String("path", path))...)
}

// LogInfo logs general info messages with structured fields
func LogInfo(message string, fields map[string]interface{}) {
	GetLogger().Info(message, toFields(fields)...)
}

// LogError logs error messages with structured fields
func LogError(message string, fields map[string]interface{}) {
	GetLogger().Error(message, toFields(fields)...)
}

func toFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			zapFields = append(zapFields, zap.String(k, val))
		case int:
			zapFields = append(zapFields, zap.Int(k, val))
		case bool:
			zapFields = append(zapFields, zap.Bool(k, val))
		case float64:
			zapFields = append(zapFields, zap.Float64(k, val))
		case time.Duration:
			zapFields = append(zapFields, zap.Duration(k, val))
		case error:
			zapFields = append(zapFields, zap.NamedError(k, val))
		default:
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

// Sync flushes any buffered log entries
func Sync() error {
	if l := logger.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
