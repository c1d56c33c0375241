// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides leveled logging.
type Logger struct {
	level Level
	sugar *zap.SugaredLogger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "text" selects the console encoder, anything else emits JSON.
func Init(level string, format string) {
	l := ParseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.ToLower(format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(l.zapLevel()))
	defaultLogger = &Logger{
		level: l,
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
	}
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.sugar.Sync()
	}
}

// Enabled reports whether messages at level would be written.
func Enabled(level Level) bool {
	return defaultLogger != nil && defaultLogger.level <= level
}

func Debug(format string, args ...interface{}) {
	if Enabled(DebugLevel) {
		defaultLogger.sugar.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if Enabled(InfoLevel) {
		defaultLogger.sugar.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if Enabled(WarnLevel) {
		defaultLogger.sugar.Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if Enabled(ErrorLevel) {
		defaultLogger.sugar.Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.sugar.Errorf("[FATAL] "+format, args...)
		Sync()
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

// CronLogger adapts the default logger to the scheduler's Info/Error logger contract.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	if Enabled(DebugLevel) {
		defaultLogger.sugar.Debugw(msg, keysAndValues...)
	}
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if Enabled(ErrorLevel) {
		defaultLogger.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
	}
}
