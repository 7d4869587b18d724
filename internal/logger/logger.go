package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log wraps a logrus entry so packages depend on the Logger interface
// instead of logrus directly.
type Log struct {
	*logrus.Entry
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger is the logging contract used across the application.
type Logger interface {
	With(fields Fields) *Log
	GetLevel() string
}

// NewLogger builds the process logger with the given level ("debug", "info", ...).
func NewLogger(level string) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	// Output goes to Stdout only, no mutex needed.
	log.SetNoLock()

	return &Log{Entry: log.WithFields(nil)}, nil
}

// With adds the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// GetLevel reports the configured level as a string.
func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}
