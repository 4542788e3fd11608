package events

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/platinummonkey/featurestore/pkg/observability"
)

type watermillLogger struct {
	logger *observability.Logger
}

// NewWatermillLogger adapts logger to watermill.LoggerAdapter. Trace
// messages are logged at debug level.
func NewWatermillLogger(logger *observability.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger.WithField("component", "watermill")}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.WithFields(fields).WithError(err).Error(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.WithFields(fields).Info(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.WithFields(fields).Debug(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.WithFields(fields).Debug(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.WithFields(fields)}
}
