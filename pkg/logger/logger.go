package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type ctxKey struct{}

type Logger struct {
	l *zap.Logger
}

// New builds a production zap logger and stores it in the context.
func New(ctx context.Context) (context.Context, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("error creating new logger: %w", err)
	}
	return context.WithValue(ctx, ctxKey{}, &Logger{zl}), nil
}

// FromZap wraps an existing zap logger, for tests.
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{zl}
}

// GetLogger returns the context logger, falling back to a no-op logger so
// call sites never nil-check.
func GetLogger(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap.NewNop()}
}

// Zap exposes the underlying zap logger for collaborators that take one.
func (logger *Logger) Zap() *zap.Logger {
	return logger.l
}

func (logger *Logger) Info(msg string, fields ...zap.Field) {
	logger.l.Info(msg, fields...)
}

func (logger *Logger) Warn(msg string, fields ...zap.Field) {
	logger.l.Warn(msg, fields...)
}

func (logger *Logger) Error(msg string, fields ...zap.Field) {
	logger.l.Error(msg, fields...)
}

func (logger *Logger) Fatal(msg string, fields ...zap.Field) {
	logger.l.Fatal(msg, fields...)
}
