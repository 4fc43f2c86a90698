package config

// Config is the top-level configuration structure parsed from inkwell YAML.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	LLM      LLM      `yaml:"llm"`
	Quota    Quota    `yaml:"quota"`
	Server   Server   `yaml:"server"`
}

// Pipeline holds the orchestration policy knobs.
type Pipeline struct {
	StageTimeout     string  `yaml:"stage_timeout"`     // default "5m"
	QualityThreshold float64 `yaml:"quality_threshold"` // default 8.0 (of 10)
	MaxRefinements   int     `yaml:"max_refinements"`   // default 2
	SessionExpiry    string  `yaml:"session_expiry"`    // default "24h"
	DefaultModel     string  `yaml:"default_model"`
	DefaultLanguage  string  `yaml:"default_language"`
}

// LLM configures the routing facade.
type LLM struct {
	// Mode selects provider routing: "cloud", "local", or "fallback"
	// (local first, one cloud retry on failure).
	Mode  string   `yaml:"mode"`
	Cloud Endpoint `yaml:"cloud"`
	Local Endpoint `yaml:"local"`
}

// Endpoint describes one generation provider.
type Endpoint struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"` // default "2m"
}

// Quota configures the built-in quota collaborator. An org not listed falls
// back to DefaultMonthlyRuns; 0 means unlimited.
type Quota struct {
	DefaultMonthlyRuns int            `yaml:"default_monthly_runs"`
	PerOrg             map[string]int `yaml:"per_org"`
}

// Server configures the HTTP API server.
type Server struct {
	Addr string `yaml:"addr"` // default ":8799"
}
