package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	RecipesPath string
	Targets     []string

	ProfilePath string
	ProfileName string

	BaseDir string
	Workers int

	Plan        bool
	SourceStage bool

	LogFormat string
	LogLevel  string
}

// NewConfig validates a raw config and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.RecipesPath == "" {
		return nil, errors.New("RecipesPath is a required configuration field and cannot be empty")
	}
	if cfg.ProfileName == "" {
		cfg.ProfileName = "default"
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = ".distforge"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	return &cfg, nil
}
