package bootstrap

import (
	"strings"

	"bandtrader/pkg/logging"
)

// InitLogger builds the zap logger described by the system section
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	return logging.NewZapLoggerWithOptions(cfg.System.LogLevel, logging.Options{
		JSON: strings.EqualFold(cfg.System.LogFormat, "json"),
	})
}
