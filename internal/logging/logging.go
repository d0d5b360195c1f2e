package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serviceName = "dialer"
	logFileMode = 0o644
)

var Logger *zap.Logger

func init() {
	Logger = build(zapcore.InfoLevel, consoleCore(zapcore.InfoLevel))
}

// Setup rebuilds Logger at logLevel. With a filePath it writes JSON lines there
// as well as text to stdout. An unknown level falls back to info.
func Setup(logLevel, filePath string) error {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		Logger.Warn("[Setup] Invalid log level, using info", zap.String("level", logLevel))

		level = zapcore.InfoLevel
	}

	if filePath == "" {
		Logger = build(level, consoleCore(level))

		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
	if err != nil {
		return err
	}

	Logger = build(level, zapcore.NewTee(fileCore(level, file), consoleCore(level)))

	return nil
}

func build(level zapcore.Level, core zapcore.Core) *zap.Logger {
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(max(level, zapcore.ErrorLevel)),
		zap.Fields(zap.String("service", serviceName)),
	)
}

func consoleCore(level zapcore.Level) zapcore.Core {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.ConsoleSeparator = "  "
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level)
}

func fileCore(level zapcore.Level, file *os.File) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(file), level)
}
