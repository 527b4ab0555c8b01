package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.SugaredLogger
	once   sync.Once
)

// Init initializes the global logger at the given level ("debug", "info",
// "warn", "error"). Safe to call multiple times; only the first call takes
// effect. Binaries call this once at startup from their parsed config.
func Init(level string) {
	once.Do(func() {
		global = newLogger(level).Sugar()
	})
}

// L returns the global logger, initializing it at info level if Init was
// never called (convenient for library code and tests).
func L() *zap.SugaredLogger {
	if global == nil {
		Init("info")
	}
	return global
}

func parseLevel(level string) zapcore.Level {
	switch level {
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

func newLogger(level string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		parseLevel(level),
	)
	return zap.New(core, zap.AddCaller())
}
