// Package logger wraps logrus with the structured-field conventions used
// across the MCS server: every log line carries a service name and, where
// applicable, the workflow/task it concerns.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with chainable field helpers.
type Logger struct {
	entry *logrus.Entry
}

// Init configures the global logrus instance: JSON output to stdout with
// field names that survive downstream log aggregation.
func Init(level logrus.Level) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
}

// ParseLevel adapts a config string ("debug", "info", ...) to a logrus.Level,
// defaulting to Info on an unrecognized value.
func ParseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// New creates a Logger scoped to a component, optionally pre-binding a
// workflow_id/step_id pair for the lifetime of a single operation.
func New(component string, workflowID, stepID string) *Logger {
	fields := logrus.Fields{"component": component}
	if workflowID != "" {
		fields["workflow_id"] = workflowID
	}
	if stepID != "" {
		fields["step_id"] = stepID
	}
	return &Logger{entry: logrus.WithFields(fields)}
}

// WithError attaches an error to the log entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithField("error", err.Error())}
}

// WithPayload attaches arbitrary structured fields to the log entry.
func (l *Logger) WithPayload(payload map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(payload))}
}

func (l *Logger) Info(message string)  { l.entry.Info(message) }
func (l *Logger) Warn(message string)  { l.entry.Warn(message) }
func (l *Logger) Error(message string) { l.entry.Error(message) }
func (l *Logger) Debug(message string) { l.entry.Debug(message) }
func (l *Logger) Fatal(message string) { l.entry.Fatal(message) }
