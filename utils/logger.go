package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// logDir returns the directory log files are written to, overridable
// through FLASHARB_LOG_DIR for containerized deployments.
func logDir() string {
	if dir := os.Getenv("FLASHARB_LOG_DIR"); dir != "" {
		return dir + "/"
	}
	return ""
}

// InitLogger builds the process-wide logger. Debug mode turns on debug
// level and disables sampling so every scan tick is visible.
func InitLogger(debug bool) *zap.Logger {
	once.Do(func() {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			config.Sampling = nil
		}

		dir := logDir()
		config.OutputPaths = []string{"stdout", dir + "flasharb.log"}
		config.ErrorOutputPaths = []string{"stderr", dir + "flasharb-error.log"}

		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

		logger, err := config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			panic(err)
		}

		log = logger
	})

	return log
}

// GetLogger returns the process-wide logger, initializing a non-debug one
// on first use.
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries.
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
