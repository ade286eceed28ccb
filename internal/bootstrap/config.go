package bootstrap

import (
	"fmt"

	"cbtrader/internal/config"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig loads the five-file YAML configuration from dir and runs its
// cross-field validation.
func LoadConfig(dir string) (*Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
