// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder and verbosity.
type Options struct {
	// Development switches to colored console output with caller stacks on
	// warnings.
	Development bool
	// Level is a zap level name; empty means info, or debug in development.
	Level   string
	Version string
}

// New builds a logger tagged with the service name and version.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level %q: %w", opts.Level, err)
		}
		cfg.Level = level
	}

	fields := map[string]any{"service": "madara-crawler"}
	if opts.Version != "" {
		fields["version"] = opts.Version
	}
	cfg.InitialFields = fields

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
