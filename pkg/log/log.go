// Package log provides the daemon's structured logger: a zap sugared
// logger with lumberjack-based rotation to a file, or JSON-to-stderr
// when no log file is configured. context.Canceled errors are logged
// at warn instead of error so routine shutdown doesn't look like a
// failure in aggregated logs.
package log

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the package-level logger used by components that don't carry
// their own. cmd/supergfxd replaces it at startup via SetGlobal.
var Logger logger = &supergfxdLogger{zap.NewNop().Sugar()}

// logger is the surface every component logs through; a plain
// *zap.SugaredLogger satisfies everything except Errorw's
// context.Canceled special-casing.
type logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type supergfxdLogger struct {
	*zap.SugaredLogger
}

// Errorw logs at error level, except when one of the "error" values is (or
// wraps) context.Canceled, in which case it logs at warn: a canceled
// context during normal shutdown is not an operational error.
func (l *supergfxdLogger) Errorw(msg string, keysAndValues ...interface{}) {
	for _, v := range keysAndValues {
		if err, ok := v.(error); ok && errors.Is(err, context.Canceled) {
			l.Warnw(msg, keysAndValues...)
			return
		}
	}
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}

// SetGlobal installs l as the package-level Logger.
func SetGlobal(l logger) { Logger = l }

// ParseLogLevel maps a level name to a zap.AtomicLevel; "" defaults to info.
func ParseLogLevel(s string) (zap.AtomicLevel, error) {
	if s == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return zap.NewAtomicLevelAt(lvl), nil
}

// CreateLogger builds a logger at level, writing JSON to logFile if set or
// to stderr otherwise.
func CreateLogger(level zap.AtomicLevel, logFile string) logger {
	if logFile == "" {
		return createConsoleLogger(level)
	}
	return CreateLoggerWithLumberjack(logFile, 100, level.Level())
}

func createConsoleLogger(level zap.AtomicLevel) logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return &supergfxdLogger{zap.New(core).Sugar()}
}

// CreateLoggerWithLumberjack builds a logger that rotates logFile once it
// exceeds maxSizeMB. The returned logger never panics on an unwritable
// path; it just drops the unwritable sink's output.
func CreateLoggerWithLumberjack(logFile string, maxSizeMB int, level zapcore.Level) logger {
	rotator := &lumberjack.Logger{
		Filename: logFile,
		MaxSize:  maxSizeMB,
		Compress: false,
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		level,
	)
	return &supergfxdLogger{zap.New(core).Sugar()}
}
