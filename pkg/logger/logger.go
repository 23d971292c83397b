package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func init() {
	// No-op logger until Init runs, so library code and tests can log
	// unconditionally.
	Log = zap.NewNop()
}

// Init sets up the global logger. Call once in main().
func Init() error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level.SetLevel(parseLevel(level))
	}
	var err error
	Log, err = cfg.Build()
	return err
}

// Sync flushes buffered entries; safe to defer from main().
func Sync() {
	_ = Log.Sync()
}

// parseLevel is a helper mapping strings to zapcore.Level
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
