package main

import (
	"github.com/pestguard/telemetry-core/internal/config"
	"github.com/pestguard/telemetry-core/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
