// Package logging builds zap loggers for binaries and provides helpers for
// work that must outlive the request that started it.
package logging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
//
// Development loggers print human-readable console output; production loggers
// emit JSON.
func New(level string, development bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// DetachContextWithTimeout creates a context that is not cancelled with its
// parent but carries its own deadline. Values from the parent are kept.
//
// Example usage:
//
//	bgCtx, cancel := logging.DetachContextWithTimeout(ctx, 30*time.Second)
//	go func() {
//	    defer cancel()
//	    _, _ = client.Cleanup(bgCtx, ownerID)
//	}()
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
