package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelBasic
	LogLevelDebug
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  atomic.Pointer[zap.Logger]
)

func init() {
	base.Store(newLogger(consoleEncoder(), zapcore.Lock(os.Stderr)))
}

// Options select the encoding and destination of log output.
type Options struct {
	// Format is "console" (default) or "json".
	Format string
	// File enables size-based log rotation into the given path.
	// Logs go to stderr if empty.
	File string
}

// Configure replaces the process logger.
// The current log level is kept.
func Configure(opts Options) {
	encoder := consoleEncoder()
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	old := base.Swap(newLogger(encoder, sink))
	_ = old.Sync()
}

// Logger returns the structured logger for callers that want typed fields.
func Logger() *zap.Logger {
	return base.Load()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = base.Load().Sync()
}

func SetLevel(l LogLevel) {
	level.SetLevel(zapLevel(l))
}

func GetLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LogLevelDebug
	case zapcore.InfoLevel:
		return LogLevelBasic
	case zapcore.WarnLevel:
		return LogLevelWarning
	}
	return LogLevelError
}

func FromString(s string) LogLevel {
	if numericLogLevel, err := strconv.Atoi(s); err == nil {
		return boundedLogLevel(numericLogLevel)
	}
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError
	case "warning":
		return LogLevelWarning
	case "basic":
		return LogLevelBasic
	case "debug":
		return LogLevelDebug
	}

	return LogLevelBasic
}

func Debugf(format string, args ...any) {
	sugar().Debug(sprintf(format, args...))
}

func Warningf(format string, args ...any) {
	sugar().Warn(sprintf(format, args...))
}

func Basicf(format string, args ...any) {
	sugar().Info(sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	sugar().Error(sprintf(format, args...))
}

func Fatalf(format string, args ...any) {
	sugar().Error(sprintf(format, args...))
	Sync()
	os.Exit(1)
}

func sugar() *zap.SugaredLogger {
	return base.Load().WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func newLogger(encoder zapcore.Encoder, sink zapcore.WriteSyncer) *zap.Logger {
	// errors are always printed, regardless of the configured level
	core := zapcore.NewCore(encoder, sink, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel || level.Enabled(l)
	}))
	return zap.New(core, zap.AddCaller())
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func zapLevel(l LogLevel) zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelBasic:
		return zapcore.InfoLevel
	case LogLevelWarning:
		return zapcore.WarnLevel
	}
	return zapcore.ErrorLevel
}

func boundedLogLevel(numericLevel int) LogLevel {
	if numericLevel < 0 {
		return LogLevelError
	}
	if numericLevel > 3 {
		return LogLevelDebug
	}
	return LogLevel(numericLevel)
}

func sprintf(format string, args ...any) string {
	return strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
}
