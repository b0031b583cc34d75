// Package logging builds the structured zap.Logger every other package in
// this module accepts as a nilable dependency (internal/executor,
// internal/rpc). It wraps zap.NewProductionConfig with its JSON encoder
// and an optional file-tee output, plus a LOG_LEVEL env-var parse step so
// verbosity can be overridden without touching config files.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console JSON logger at level (parsed via ParseLevel;
// defaults to info on a parse error so a malformed LOG_LEVEL never
// prevents startup).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewWithFile builds a logger that tees every record to both stdout and
// logPath, for deployments that want a durable local log alongside
// console output.
func NewWithFile(level, logPath string) (*zap.Logger, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file %s: %w", logPath, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	lvl := parseLevel(level)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl),
		zapcore.NewCore(encoder, zapcore.AddSync(file), lvl),
	)
	return zap.New(core), nil
}

// FromEnv builds a logger using the LOG_LEVEL environment variable
// (default "info"), optionally teeing to logPath if non-empty.
func FromEnv(logPath string) (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if logPath == "" {
		return New(level)
	}
	return NewWithFile(level, logPath)
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zap.InfoLevel
	}
	return l
}
