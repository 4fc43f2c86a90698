package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkwellhq/inkwell/internal/config"
)

// ErrAgentUnavailable indicates the selected generation endpoint could not
// be reached and no fallback applied.
var ErrAgentUnavailable = errors.New("generation agent unavailable")

// Prompt is one generation request.
type Prompt struct {
	System    string
	User      string
	ModelHint string // overrides the endpoint's configured model when set
}

// Result is the outcome of one generation call.
type Result struct {
	Text     string
	Tokens   int
	CostUSD  float64
	Provider string
}

// Provider performs a single generation call against one backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (*Result, error)
}

// HTTPProvider calls an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	name      string
	baseURL   string
	apiKey    string
	model     string
	costPer1K float64
	client    *http.Client
}

// NewHTTPProvider creates a provider from an endpoint config. costPer1K is
// the estimated USD cost per 1000 tokens used for billing reports.
func NewHTTPProvider(name string, ep config.Endpoint, costPer1K float64) *HTTPProvider {
	timeout := 2 * time.Minute
	if d, err := time.ParseDuration(ep.Timeout); err == nil {
		timeout = d
	}
	return &HTTPProvider{
		name:      name,
		baseURL:   ep.BaseURL,
		apiKey:    ep.APIKey,
		model:     ep.Model,
		costPer1K: costPer1K,
		client:    &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (h *HTTPProvider) Name() string { return h.name }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one chat completion call.
func (h *HTTPProvider) Generate(ctx context.Context, p Prompt) (*Result, error) {
	model := h.model
	if p.ModelHint != "" {
		model = p.ModelHint
	}

	var messages []chatMessage
	if p.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", h.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", h.name, resp.StatusCode, truncate(string(data), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", h.name, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("%s: %s", h.name, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", h.name)
	}

	return &Result{
		Text:     cr.Choices[0].Message.Content,
		Tokens:   cr.Usage.TotalTokens,
		CostUSD:  float64(cr.Usage.TotalTokens) / 1000 * h.costPer1K,
		Provider: h.name,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
