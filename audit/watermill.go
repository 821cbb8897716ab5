package audit

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

type watermillLogger struct {
	log *zap.Logger
}

// NewWatermillLogger adapts a zap logger to watermill.
func NewWatermillLogger(log *zap.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Debug(msg, toZap(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug(msg, toZap(fields)...)
}

func (w *watermillLogger) Trace(string, watermill.LogFields) {}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: w.log.With(toZap(fields)...)}
}
