// Package logger provides basic logging functionalities.
package logger

import (
	"io"
	"log"
	"os"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// defaultLogger is a simple logger implementation using the standard log package.
type defaultLogger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	fatalLogger *log.Logger
}

// NewLogger creates and configures a new Logger instance.
// logLevel is one of "debug", "info", "warn", "error", "fatal".
func NewLogger(logLevel string) Logger {
	l := &defaultLogger{}
	l.configure(logLevel)
	return l
}

func (l *defaultLogger) configure(logLevel string) {
	var debugHandle io.Writer = io.Discard
	var infoHandle io.Writer = os.Stdout
	var warnHandle io.Writer = os.Stdout
	var errorHandle io.Writer = os.Stderr

	switch logLevel {
	case "debug":
		debugHandle = os.Stdout
	case "warn":
		infoHandle = io.Discard
	case "error":
		infoHandle = io.Discard
		warnHandle = io.Discard
	case "fatal":
		infoHandle = io.Discard
		warnHandle = io.Discard
		errorHandle = io.Discard
	}

	l.debugLogger = log.New(debugHandle, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	l.infoLogger = log.New(infoHandle, "INFO:  ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warnLogger = log.New(warnHandle, "WARN:  ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLogger = log.New(errorHandle, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	l.fatalLogger = log.New(os.Stderr, "FATAL: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func (l *defaultLogger) Debug(args ...interface{}) { l.debugLogger.Println(args...) }
func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.debugLogger.Printf(format, args...)
}
func (l *defaultLogger) Info(args ...interface{}) { l.infoLogger.Println(args...) }
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.infoLogger.Printf(format, args...)
}
func (l *defaultLogger) Warn(args ...interface{}) { l.warnLogger.Println(args...) }
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.warnLogger.Printf(format, args...)
}
func (l *defaultLogger) Error(args ...interface{}) { l.errorLogger.Println(args...) }
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.errorLogger.Printf(format, args...)
}
func (l *defaultLogger) Fatal(args ...interface{}) { l.fatalLogger.Fatalln(args...) }
func (l *defaultLogger) Fatalf(format string, args ...interface{}) {
	l.fatalLogger.Fatalf(format, args...)
}

// Global std logger instance, initialized with default "info" settings.
var std = NewLogger("info").(*defaultLogger)

// SetGlobalLogLevel reconfigures the global std logger's level.
func SetGlobalLogLevel(logLevel string) {
	std.configure(logLevel)
}

// Debug logs a debug message using the global std logger.
func Debug(args ...interface{}) {
	std.Debug(args...)
}

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

// Info logs an informational message using the global std logger.
func Info(args ...interface{}) {
	std.Info(args...)
}

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) {
	std.Infof(format, args...)
}

// Warn logs a warning message.
func Warn(args ...interface{}) {
	std.Warn(args...)
}

// Warnf logs a warning message with formatting.
func Warnf(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	std.Error(args...)
}

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	std.Fatal(args...)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}
