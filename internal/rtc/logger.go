package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// slogFactory routes pion's internal logging through the process logger.
// Trace output is dropped and info is demoted to debug; pion narrates
// every candidate pair at info and that would drown the call log.
type slogFactory struct{}

func (slogFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{log: slog.Default().With("scope", scope)}
}

type scopedLogger struct {
	log *slog.Logger
}

func (l *scopedLogger) Trace(string)                  {}
func (l *scopedLogger) Tracef(string, ...interface{}) {}

func (l *scopedLogger) Debug(msg string) { l.log.Debug(msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Info(msg string) { l.log.Debug(msg) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Warn(msg string) { l.log.Warn(msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Error(msg string) { l.log.Error(msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
