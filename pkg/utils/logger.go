// Package utils holds small helpers shared across commands.
package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the process-wide zap logger. Debug mode uses the
// development config (human-readable, debug level); otherwise JSON at info
// level with ISO 8601 timestamps so pipeline logs line up with the
// created_at columns in the result store.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
