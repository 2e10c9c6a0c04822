// Package logging builds the zap logger shared by the CLI and server, and
// adapts it to the publish.Observer notifications.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New creates a logger writing to stderr at level in the given format.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case FormatJSON:
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Observer logs every upload outcome.
type Observer struct {
	logger *zap.Logger
}

// NewObserver returns an Observer logging to logger under the bucket name.
func NewObserver(logger *zap.Logger, bucket string) *Observer {
	return &Observer{logger: logger.With(zap.String("bucket", bucket))}
}

func (o *Observer) Uploaded(_ context.Context, key string, size int64) {
	o.logger.Info("Uploaded object", zap.String("key", key), zap.Int64("size", size))
}

func (o *Observer) Failed(_ context.Context, key string, err error) {
	o.logger.Error("Upload failed", zap.String("key", key), zap.Error(err))
}
