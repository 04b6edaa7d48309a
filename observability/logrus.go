package observability

import "github.com/sirupsen/logrus"

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus wraps a logrus logger in the Logger contract.
func NewLogrus(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.entry.WithFields(asFields(fields)).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.entry.WithFields(asFields(fields)).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.entry.WithFields(asFields(fields)).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.entry.WithFields(asFields(fields)).Error(msg) }

func (l *logrusLogger) With(fields ...Field) Logger {
	return &logrusLogger{entry: l.entry.WithFields(asFields(fields))}
}

func asFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key()] = f.Value()
	}
	return out
}
