package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Logger struct {
	level       *atomic.Int32
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
}

func New() *Logger {
	return NewWithWriters(os.Stdout, os.Stderr, "")
}

// NewWithWriters builds a logger writing info/debug to out and warn/error to errOut.
// A non-empty component is added to every line as "[component] ".
func NewWithWriters(out, errOut io.Writer, component string) *Logger {
	lvl := &atomic.Int32{}
	lvl.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	return build(lvl, out, errOut, component)
}

func build(lvl *atomic.Int32, out, errOut io.Writer, component string) *Logger {
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	flags := log.Ldate | log.Ltime | log.Lmsgprefix
	return &Logger{
		level:       lvl,
		infoLogger:  log.New(out, "INFO: "+prefix, flags),
		warnLogger:  log.New(errOut, "WARN: "+prefix, flags),
		errorLogger: log.New(errOut, "ERROR: "+prefix, flags),
		debugLogger: log.New(out, "DEBUG: "+prefix, flags),
	}
}

// Named returns a logger sharing l's level and writers, tagged with component.
func (l *Logger) Named(component string) *Logger {
	return build(l.level, l.infoLogger.Writer(), l.errorLogger.Writer(), component)
}

func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) enabled(level Level) bool {
	return Level(l.level.Load()) <= level
}

func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.infoLogger.Printf(format, v...)
	}
}

func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.warnLogger.Printf(format, v...)
	}
}

func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.errorLogger.Printf(format, v...)
	}
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.debugLogger.Printf(format, v...)
	}
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.errorLogger.Printf(format, v...)
	os.Exit(1)
}

// Global logger instance
var GlobalLogger = New()

// Named returns a component logger derived from GlobalLogger.
func Named(component string) *Logger {
	return GlobalLogger.Named(component)
}

// Convenience functions
func Info(format string, v ...interface{}) {
	GlobalLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	GlobalLogger.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}
