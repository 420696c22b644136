package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog's debug level; pion's trace output is only
// visible when the handler is configured for it.
const levelTrace = slog.LevelDebug - 4

// LoggerFactory hands pion components slog-backed leveled loggers.
type LoggerFactory struct {
	log *slog.Logger
}

func NewLoggerFactory(logger *slog.Logger) *LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerFactory{log: logger}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{log: f.log.With("pion", scope)}
}

type scopedLogger struct {
	log *slog.Logger
}

func (l *scopedLogger) emit(level slog.Level, msg string) {
	ctx := context.Background()
	if l.log.Enabled(ctx, level) {
		l.log.Log(ctx, level, msg)
	}
}

func (l *scopedLogger) emitf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if l.log.Enabled(ctx, level) {
		l.log.Log(ctx, level, fmt.Sprintf(format, args...))
	}
}

func (l *scopedLogger) Trace(msg string)                          { l.emit(levelTrace, msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) { l.emitf(levelTrace, format, args...) }
func (l *scopedLogger) Debug(msg string)                          { l.emit(slog.LevelDebug, msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) { l.emitf(slog.LevelDebug, format, args...) }
func (l *scopedLogger) Info(msg string)                           { l.emit(slog.LevelInfo, msg) }
func (l *scopedLogger) Infof(format string, args ...interface{})  { l.emitf(slog.LevelInfo, format, args...) }
func (l *scopedLogger) Warn(msg string)                           { l.emit(slog.LevelWarn, msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{})  { l.emitf(slog.LevelWarn, format, args...) }
func (l *scopedLogger) Error(msg string)                          { l.emit(slog.LevelError, msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) { l.emitf(slog.LevelError, format, args...) }
