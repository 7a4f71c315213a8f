package config

import "go.uber.org/zap"

// NewLogger builds the process logger: development output when LOG_LEVEL is
// debug, production JSON otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.LogLevel == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(c.LogLevel); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}
