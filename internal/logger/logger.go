// Package logger provides structured logging with context propagation for the
// health-series service. Loggers are built on log/slog; request, user, metric
// and job identifiers carried in a context are attached to every record
// logged with that context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnayoung/go-health-series/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// RequestIDKey is the context key for the HTTP request ID
	RequestIDKey ContextKey = "request_id"
	// UserIDKey is the context key for the user whose series is processed
	UserIDKey ContextKey = "user_id"
	// MetricKey is the context key for the metric type
	MetricKey ContextKey = "metric"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// JobIDKey is the context key for generation and ingest runs
	JobIDKey ContextKey = "job_id"
)

var contextKeys = []ContextKey{RequestIDKey, UserIDKey, MetricKey, OperationKey, JobIDKey}

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger *slog.Logger
	config     config.LoggingConfig
	writer     io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	baseAttrs := make([]slog.Attr, 0, len(cfg.ContextFields))
	for key, value := range cfg.ContextFields {
		baseAttrs = append(baseAttrs, slog.String(key, value))
	}
	if len(baseAttrs) > 0 {
		handler = handler.WithAttrs(baseAttrs)
	}

	return &LoggerManager{
		baseLogger:     slog.New(NewContextHandler(handler)),
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
	}, nil
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}, nil
	default:
		return nopWriteCloser{os.Stdout}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ParseLevel converts a configured level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// GetLogger returns the base logger instance
func (lm *LoggerManager) GetLogger() *slog.Logger {
	return lm.baseLogger
}

// GetComponentLogger returns a logger tagged with the component name
func (lm *LoggerManager) GetComponentLogger(component string) *slog.Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if cached, exists := lm.componentCache[component]; exists {
		return cached
	}
	componentLogger := lm.baseLogger.With(slog.String("component", component))
	lm.componentCache[component] = componentLogger
	return componentLogger
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

// ContextHandler decorates records with the identifiers stored in the
// context passed to the *Context logging methods.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler wraps h.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before delegating.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.AddAttrs(ContextAttrs(ctx)...)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the wrapper in place.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the wrapper in place.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ContextAttrs extracts logging attributes from ctx.
func ContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithMetric adds a metric type to the context
func WithMetric(ctx context.Context, metric string) context.Context {
	return context.WithValue(ctx, MetricKey, metric)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// GetJobID extracts the job ID from context
func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(JobIDKey).(string)
	return v
}

// NewRequestID returns a fresh identifier for request and job correlation.
func NewRequestID() string {
	return uuid.NewString()
}

// TimedOperation runs fn and logs its outcome and duration with the
// identifiers carried by ctx.
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string, fn func() error) error {
	start := time.Now()
	ctx = WithOperation(ctx, operation)

	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.ErrorContext(ctx, "operation failed",
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return err
	}

	logger.DebugContext(ctx, "operation completed",
		slog.Duration("duration", duration))
	return nil
}
