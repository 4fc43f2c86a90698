package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedModes is the set of valid llm.mode values.
var recognizedModes = map[string]bool{
	"cloud":    true,
	"local":    true,
	"fallback": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	for _, d := range []struct {
		field string
		value string
	}{
		{"pipeline.stage_timeout", p.StageTimeout},
		{"pipeline.session_expiry", p.SessionExpiry},
		{"llm.cloud.timeout", cfg.LLM.Cloud.Timeout},
		{"llm.local.timeout", cfg.LLM.Local.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: fmt.Sprintf("invalid duration %q", d.value),
			})
		}
	}

	if p.QualityThreshold < 0 || p.QualityThreshold > 10 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.quality_threshold",
			Message: fmt.Sprintf("must be between 0 and 10, got %v", p.QualityThreshold),
		})
	}
	if p.MaxRefinements < 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.max_refinements",
			Message: "must not be negative",
		})
	}

	if !recognizedModes[cfg.LLM.Mode] {
		errs = append(errs, ValidationError{
			Field:   "llm.mode",
			Message: fmt.Sprintf("unrecognized mode %q (want cloud, local, or fallback)", cfg.LLM.Mode),
		})
	}
	switch cfg.LLM.Mode {
	case "cloud":
		if cfg.LLM.Cloud.BaseURL == "" {
			errs = append(errs, ValidationError{Field: "llm.cloud.base_url", Message: "is required in cloud mode"})
		}
	case "local":
		if cfg.LLM.Local.BaseURL == "" {
			errs = append(errs, ValidationError{Field: "llm.local.base_url", Message: "is required in local mode"})
		}
	case "fallback":
		if cfg.LLM.Local.BaseURL == "" {
			errs = append(errs, ValidationError{Field: "llm.local.base_url", Message: "is required in fallback mode"})
		}
		if cfg.LLM.Cloud.BaseURL == "" {
			errs = append(errs, ValidationError{Field: "llm.cloud.base_url", Message: "is required in fallback mode"})
		}
	}

	for org, n := range cfg.Quota.PerOrg {
		if n < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("quota.per_org.%s", org),
				Message: "must not be negative",
			})
		}
	}

	return errs
}

// StageTimeoutDuration returns the parsed stage timeout.
func (p Pipeline) StageTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.StageTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// SessionExpiryDuration returns the parsed checkpoint session expiry window.
func (p Pipeline) SessionExpiryDuration() time.Duration {
	d, err := time.ParseDuration(p.SessionExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
