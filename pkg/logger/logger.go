// Package logger provides the process-wide log used by the client and CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	globalLogger = newSilent()
	logFile      *os.File
	verbose      bool
	mu           sync.Mutex
)

func newSilent() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Init directs the log to the file at logPath (appending).
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	resetOutput()
	return nil
}

// SetVerbose mirrors log output to stderr.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()

	verbose = v
	resetOutput()
}

// SetOutput replaces every configured sink with w. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	globalLogger.SetOutput(w)
}

// must hold mu
func resetOutput() {
	var writers []io.Writer
	if logFile != nil {
		writers = append(writers, logFile)
	}
	if verbose {
		writers = append(writers, os.Stderr)
	}
	switch len(writers) {
	case 0:
		globalLogger.SetOutput(io.Discard)
	case 1:
		globalLogger.SetOutput(writers[0])
	default:
		globalLogger.SetOutput(io.MultiWriter(writers...))
	}
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	resetOutput()
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	globalLogger.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	globalLogger.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	globalLogger.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	globalLogger.Warnf(format, v...)
}

// WithFields returns an entry carrying structured fields, e.g. request ids.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return globalLogger.WithFields(fields)
}
