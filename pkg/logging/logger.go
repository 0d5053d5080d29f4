package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. The "local" environment gets a colored
// console logger on stderr; every other environment logs JSON.
func NewLogger(level, env string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var logConfig zap.Config
	if env == "local" || env == "" {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logConfig.DisableStacktrace = true
	} else {
		logConfig = zap.NewProductionConfig()
		logConfig.InitialFields = map[string]any{"service": "querysight", "env": env}
	}
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	// stdout carries command output (reports, JSON); logs stay on stderr.
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// MustNewLogger is NewLogger for command entry points; it falls back to a
// production logger and reports the problem on stderr.
func MustNewLogger(level, env string) *zap.Logger {
	logger, err := NewLogger(level, env)
	if err == nil {
		return logger
	}
	fmt.Fprintf(os.Stderr, "logger setup failed, using defaults: %v\n", err)
	logger, _ = zap.NewProduction()
	return logger
}
