package canarystore

import (
	"context"
	"log/slog"
)

// Logger provides structured logging for storage, index and query operations.
// fields alternate key and value.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// SlogLogger adapts a *slog.Logger, for embedding the library in programs that log through slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger; nil uses slog.Default()
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// With returns a logger that adds the component attribute to every record
func (l *SlogLogger) With(component string) *SlogLogger {
	return &SlogLogger{logger: l.logger.With("component", component)}
}

func (l *SlogLogger) Debug(msg string, fields ...interface{}) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *SlogLogger) Info(msg string, fields ...interface{}) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *SlogLogger) Warn(msg string, fields ...interface{}) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *SlogLogger) Error(msg string, fields ...interface{}) {
	l.log(slog.LevelError, msg, fields)
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	// A trailing key without a value is logged under !BADKEY by slog
	l.logger.Log(ctx, level, msg, fields...)
}
