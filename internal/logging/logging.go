// Package logging builds the zap loggers handed to every component.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a logger
type Options struct {
	// Level is one of debug, info, warn, error
	Level string
	// Development switches to the console encoder with caller and stack traces
	Development bool
}

// ParseLevel maps a level name onto a zap level
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return level, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// Build creates a logger or reports why it could not
func Build(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// New creates a logger, falling back to a no-op logger when the options
// cannot be satisfied
func New(opts Options) *zap.Logger {
	logger, err := Build(opts)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
