// Package logger provides the structured logger used across the engine:
// a thin wrapper over zap's SugaredLogger so call sites can use the
// key/value style (Infow, Warnw, Errorw) the teacher uses throughout its
// own internal/logger package, fanned out through a zapcore.Tee when both
// a console and a file sink are configured.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the engine-wide logging handle.
type Logger struct {
	zap *zap.SugaredLogger
}

// New builds a console logger at the given level ("debug", "info",
// "warn", "error"). When filePath is non-empty, JSON-formatted records
// are additionally written there through a zapcore.Tee of the console
// core and a JSON file core; if the file cannot be opened, only the
// console sink is used.
func New(level string, filePath string) (*Logger, error) {
	zapLevel := parseLevel(level)

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zapLevel)

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			core = zapcore.NewTee(core, fileCore(f, zapLevel))
		}
	}

	return &Logger{zap: zap.New(core).Sugar()}, nil
}

// fileCore builds a zap JSON-encoding core writing to w at level.
func fileCore(w io.Writer, level zapcore.Level) zapcore.Core {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zapcore.NewCore(enc, zapcore.AddSync(w), level)
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NopLogger returns a Logger that discards everything, for call sites
// (mostly tests and library entry points) that don't want to configure
// one explicitly.
func NopLogger() *Logger {
	return &Logger{zap: zap.NewNop().Sugar()}
}

func (l *Logger) Debugw(msg string, kv ...any) { l.zap.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...any)  { l.zap.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.zap.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.zap.Errorw(msg, kv...) }

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.zap.Sync() }

type contextKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext retrieves the Logger attached by WithContext, or a no-op
// logger if none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NopLogger()
}

// SlogMultiHandler builds a fanned-out slog.Handler writing to every
// supplied writer as JSON lines, for slog-based callers that do not use
// this package's zap-backed Logger.
func SlogMultiHandler(writers ...io.Writer) slog.Handler {
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, nil))
	}
	return slogmulti.Fanout(handlers...)
}
