package util

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// InitLogger initializes the global logger. level overrides the environment default when set.
func InitLogger(env, level string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		config.Level = zap.NewAtomicLevelAt(levelFromString(level))
	}

	l, err := config.Build()
	if err != nil {
		return err
	}

	logger.Store(l)
	zap.ReplaceGlobals(l)
	return nil
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	return logger.Load()
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	_ = logger.Load().Sync()
}
