package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger bridges watermill's logging onto zerolog. Watermill is
// chatty at info level during routine pub/sub, so routine messages are
// demoted to debug unless verbose is set.
type watermillLogger struct {
	logger  zerolog.Logger
	verbose bool
}

// NewWatermillLogger returns a watermill LoggerAdapter writing to logger.
func NewWatermillLogger(logger zerolog.Logger, verbose bool) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger, verbose: verbose}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), msg, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	if l.verbose {
		l.event(l.logger.Info(), msg, fields)
		return
	}
	l.event(l.logger.Debug(), msg, fields)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &watermillLogger{logger: logger, verbose: l.verbose}
}

func (l *watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
