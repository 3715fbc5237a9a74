package kmyth

import "github.com/sirupsen/logrus"

// Logger is the injected logging capability the core writes diagnostic
// events through. There is no process-wide logging singleton anywhere in
// this package (spec.md section 9): every component that logs takes a
// Logger explicitly at construction.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// nopLogger discards everything. Used as the zero-value default so that
// callers who don't care about diagnostics aren't forced to wire one up.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (n nopLogger) WithField(string, interface{}) Logger { return n }

func logOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// LogrusLogger adapts a logrus.FieldLogger to Logger, for callers who
// already run logrus elsewhere in their process and want the core's
// diagnostics folded into the same stream.
type LogrusLogger struct {
	Entry logrus.FieldLogger
}

var _ Logger = LogrusLogger{}

func (l LogrusLogger) Debugf(format string, args ...interface{}) { l.Entry.Debugf(format, args...) }
func (l LogrusLogger) Infof(format string, args ...interface{})  { l.Entry.Infof(format, args...) }
func (l LogrusLogger) Warnf(format string, args ...interface{})  { l.Entry.Warnf(format, args...) }
func (l LogrusLogger) Errorf(format string, args ...interface{}) { l.Entry.Errorf(format, args...) }

// WithField returns a Logger scoped to a single structured field, mirroring
// logrus.FieldLogger.WithField's chainable shape.
func (l LogrusLogger) WithField(key string, value interface{}) Logger {
	return LogrusLogger{Entry: l.Entry.WithField(key, value)}
}
