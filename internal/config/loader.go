package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for values the file doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./inkwell.yaml, ~/.inkwell/config.yaml.
// If none exists, a config with all defaults is returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"inkwell.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".inkwell", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.StageTimeout == "" {
		p.StageTimeout = "5m"
	}
	if p.QualityThreshold == 0 {
		p.QualityThreshold = 8.0
	}
	if p.MaxRefinements == 0 {
		p.MaxRefinements = 2
	}
	if p.SessionExpiry == "" {
		p.SessionExpiry = "24h"
	}
	if p.DefaultLanguage == "" {
		p.DefaultLanguage = "en"
	}

	if cfg.LLM.Mode == "" {
		cfg.LLM.Mode = "cloud"
	}
	if cfg.LLM.Cloud.Timeout == "" {
		cfg.LLM.Cloud.Timeout = "2m"
	}
	if cfg.LLM.Local.Timeout == "" {
		cfg.LLM.Local.Timeout = "2m"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8799"
	}
}
