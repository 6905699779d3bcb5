// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and destinations.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level"`
	// File receives a copy of every entry. Empty disables file logging.
	File string `mapstructure:"file"`
	// Development switches to zap's development encoder with colored levels.
	Development bool `mapstructure:"development"`
}

// New builds a logger writing to stderr and, when configured, appending to a
// log file. The returned cleanup flushes and closes the file.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	consoleCfg := encoderConfig()
	if cfg.Development {
		consoleCfg = zap.NewDevelopmentEncoderConfig()
		consoleCfg.TimeKey = "ts"
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	closeFile := func() {}
	if path := strings.TrimSpace(cfg.File); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		// #nosec G304 -- log path comes from operator configuration.
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(f), level))
		closeFile = func() { _ = f.Close() }
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)
	cleanup := func() {
		_ = logger.Sync()
		closeFile()
	}
	return logger, cleanup, nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
