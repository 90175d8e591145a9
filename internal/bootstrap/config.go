package bootstrap

import (
	"fmt"

	infraconfig "github.com/jonesrussell/north-cloud/guardrail/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/config"
)

// LoadConfig loads and validates configuration. An empty path means
// CONFIG_PATH or config.yml; a missing file leaves defaults and environment.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = infraconfig.GetConfigPath(infraconfig.DefaultPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config: %w", validateErr)
	}
	return cfg, nil
}

// CreateLogger creates a logger instance from configuration.
func CreateLogger(cfg *config.Config) (infralogger.Logger, error) {
	logger, err := infralogger.New(infralogger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Server.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger.With(infralogger.String("service", cfg.Service.Name)), nil
}
