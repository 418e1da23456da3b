package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// FilterLevel drops entries below the threshold held by level. The threshold
// can be changed at runtime; nil level means everything passes.
func FilterLevel(inner watermill.LoggerAdapter, level *slog.LevelVar) watermill.LoggerAdapter {
	if level == nil {
		return inner
	}
	return &levelFilter{inner: inner, level: level}
}

type levelFilter struct {
	inner watermill.LoggerAdapter
	level *slog.LevelVar
}

func (f *levelFilter) enabled(l slog.Level) bool {
	return l >= f.level.Level()
}

func (f *levelFilter) Error(msg string, err error, fields watermill.LogFields) {
	if f.enabled(slog.LevelError) {
		f.inner.Error(msg, err, fields)
	}
}

func (f *levelFilter) Info(msg string, fields watermill.LogFields) {
	if f.enabled(slog.LevelInfo) {
		f.inner.Info(msg, fields)
	}
}

func (f *levelFilter) Debug(msg string, fields watermill.LogFields) {
	if f.enabled(slog.LevelDebug) {
		f.inner.Debug(msg, fields)
	}
}

func (f *levelFilter) Trace(msg string, fields watermill.LogFields) {
	if f.enabled(LevelTrace) {
		f.inner.Trace(msg, fields)
	}
}

func (f *levelFilter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &levelFilter{inner: f.inner.With(fields), level: f.level}
}
