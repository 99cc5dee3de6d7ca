package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"eddnlistener/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a zap.Logger configured based on the given options.
// Console output always goes to stdout; when an output file is set,
// JSON logs are additionally written there with rotation.
func New(opts config.LogConfig) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := "json"
	if opts.Environment == "dev" || opts.Format == "console" {
		encoding = "console"
	}
	encoderCfg := encoderConfig(encoding)

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			lvl,
		),
	}

	// Optional file output with rotation via lumberjack
	if opts.OutputFile != "" {
		dir := filepath.Dir(opts.OutputFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.OutputFile,
			MaxSize:    10, // max file size (MB) before rotation
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		})

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			fileWriter,
			lvl,
		))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// encoderConfig returns a zapcore.EncoderConfig based on log format.
func encoderConfig(format string) zapcore.EncoderConfig {
	if format == "console" {
		return zap.NewDevelopmentEncoderConfig()
	}
	return zap.NewProductionEncoderConfig()
}
