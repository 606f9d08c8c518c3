// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger stays usable before InitStdoutLogger runs, so packages may log from tests.
var Logger = zap.NewNop().Sugar()

// InitStdoutLogger initializes the global logger with the specified log level
func InitStdoutLogger(logLevel string) {
	if logLevel == "" {
		logLevel = "info"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(logLevel)),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	Logger = logger.Sugar().Named("barnacle")
	Logger.Infof("Logger initialized with level: %s", logLevel)
}

// ParseLevel maps a config string onto a zap level, defaulting to debug.
func ParseLevel(logLevel string) zapcore.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}
