package webrtcpc

import (
	"github.com/pion/logging"

	"github.com/project-chip/certification-tool-cli/internal/logger"
)

// pionLogger routes log lines of the pion stack into the main logger.
// Info lines are frequent during negotiation and are kept at debug.
type pionLogger struct {
	parent logger.Writer
	scope  string
}

func (l *pionLogger) logf(level logger.Level, format string, args ...interface{}) {
	l.parent.Log(level, "["+l.scope+"] "+format, args...)
}

func (l *pionLogger) Trace(msg string) { l.logf(logger.Debug, "%s", msg) }

func (l *pionLogger) Tracef(format string, args ...interface{}) { l.logf(logger.Debug, format, args...) }

func (l *pionLogger) Debug(msg string) { l.logf(logger.Debug, "%s", msg) }

func (l *pionLogger) Debugf(format string, args ...interface{}) { l.logf(logger.Debug, format, args...) }

func (l *pionLogger) Info(msg string) { l.logf(logger.Debug, "%s", msg) }

func (l *pionLogger) Infof(format string, args ...interface{}) { l.logf(logger.Debug, format, args...) }

func (l *pionLogger) Warn(msg string) { l.logf(logger.Warn, "%s", msg) }

func (l *pionLogger) Warnf(format string, args ...interface{}) { l.logf(logger.Warn, format, args...) }

func (l *pionLogger) Error(msg string) { l.logf(logger.Error, "%s", msg) }

func (l *pionLogger) Errorf(format string, args ...interface{}) { l.logf(logger.Error, format, args...) }

type pionLoggerFactory struct {
	parent logger.Writer
}

func (f *pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{parent: f.parent, scope: scope}
}
