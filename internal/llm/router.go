package llm

import (
	"context"
	"fmt"

	"github.com/inkwellhq/inkwell/internal/config"
)

// Routing modes.
const (
	ModeCloud    = "cloud"
	ModeLocal    = "local"
	ModeFallback = "fallback" // local first, one cloud retry
)

// Router resolves generation calls to a cloud or local provider according
// to the configured mode. Every agent stage goes through Generate; provider
// selection and fallback live here and nowhere else.
type Router struct {
	mode  string
	cloud Provider
	local Provider
}

// NewRouter creates a Router with explicit providers. Either provider may be
// nil when the mode never selects it.
func NewRouter(mode string, cloud, local Provider) *Router {
	return &Router{mode: mode, cloud: cloud, local: local}
}

// NewRouterFromConfig builds a Router with HTTP providers from config.
func NewRouterFromConfig(cfg config.LLM) *Router {
	var cloud, local Provider
	if cfg.Cloud.BaseURL != "" {
		cloud = NewHTTPProvider("cloud", cfg.Cloud, 0.002)
	}
	if cfg.Local.BaseURL != "" {
		local = NewHTTPProvider("local", cfg.Local, 0)
	}
	return NewRouter(cfg.Mode, cloud, local)
}

// Mode returns the configured routing mode.
func (r *Router) Mode() string { return r.mode }

// Generate routes one generation call. In fallback mode a local failure is
// retried once against the cloud provider before the call fails.
func (r *Router) Generate(ctx context.Context, p Prompt) (*Result, error) {
	switch r.mode {
	case ModeCloud:
		if r.cloud == nil {
			return nil, fmt.Errorf("cloud provider not configured: %w", ErrAgentUnavailable)
		}
		return r.cloud.Generate(ctx, p)

	case ModeLocal:
		if r.local == nil {
			return nil, fmt.Errorf("local provider not configured: %w", ErrAgentUnavailable)
		}
		res, err := r.local.Generate(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("local generation failed: %w: %w", ErrAgentUnavailable, err)
		}
		return res, nil

	case ModeFallback:
		if r.local != nil {
			res, err := r.local.Generate(ctx, p)
			if err == nil {
				return res, nil
			}
			// Don't burn the retry on a cancelled context.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		if r.cloud == nil {
			return nil, fmt.Errorf("no provider available for fallback: %w", ErrAgentUnavailable)
		}
		return r.cloud.Generate(ctx, p)

	default:
		return nil, fmt.Errorf("unknown routing mode %q", r.mode)
	}
}
