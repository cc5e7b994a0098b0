package system

import (
	"go.uber.org/zap"
)

// NewTestLogger returns a sugared logger configured for tests. It mirrors the
// verbose CLI logger so debug decisions show up in test output.
func NewTestLogger() *zap.SugaredLogger {
	return NewTestZapLogger().Sugar()
}

// NewTestZapLogger returns a non-sugared *zap.Logger for tests that expect
// the original zap.Logger type.
func NewTestZapLogger() *zap.Logger {
	cfg := LoggerConfig(true)
	cfg.OutputPaths = []string{"stdout"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
