// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging constructs the structured logger used by the background
// pipeline and the triage engine. Producer-side events go through zap so
// they do not interleave with the operator's terminal prompt.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a SugaredLogger writing to the named file. Logging to a file
// rather than stderr keeps the interactive sorting prompt clean. When path
// is empty the logger discards everything.
func New(path string, verbose bool) (*zap.SugaredLogger, error) {
	if path == "" {
		return zap.NewNop().Sugar(), nil
	}

	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
