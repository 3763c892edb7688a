// Package dcontext carries a structured logger and a few well-known
// request-scoped values (request id, repository, digest) on
// context.Context, following distribution's internal/dcontext package.
package dcontext

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   *logrus.Entry = logrus.StandardLogger().WithField("go.version", runtime.Version())
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled-logging interface carried on context.Context.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) *logrus.Entry
	WithError(err error) *logrus.Entry
}

type loggerKey struct{}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger returns the logger attached to ctx, or the process default.
func GetLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// GetLoggerWithField returns a logger with an extra field, without
// mutating ctx.
func GetLoggerWithField(ctx context.Context, key string, value any) Logger {
	return GetLogger(ctx).WithField(key, value)
}

// SetDefaultLogger replaces the package-level fallback logger, used at
// process startup once the configured log level/format is known.
func SetDefaultLogger(logger *logrus.Entry) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id, surfaced in every log line and
// in error responses per spec.md C12 "correlation id".
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the correlation id attached to ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
