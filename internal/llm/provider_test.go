package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell/internal/config"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, req chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, r, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completion(text string, tokens int) chatResponse {
	var cr chatResponse
	cr.Choices = []struct {
		Message chatMessage `json:"message"`
	}{{Message: chatMessage{Role: "assistant", Content: text}}}
	cr.Usage.TotalTokens = tokens
	return cr
}

func TestHTTPProviderGenerate(t *testing.T) {
	var gotAuth string
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		json.NewEncoder(w).Encode(completion("generated text", 500))
	})

	p := NewHTTPProvider("cloud", config.Endpoint{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
		Timeout: "30s",
	}, 0.002)

	res, err := p.Generate(context.Background(), Prompt{System: "you are a writer", User: "write"})
	require.NoError(t, err)
	assert.Equal(t, "generated text", res.Text)
	assert.Equal(t, 500, res.Tokens)
	assert.InDelta(t, 0.001, res.CostUSD, 1e-9)
	assert.Equal(t, "cloud", res.Provider)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHTTPProviderModelHint(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		assert.Equal(t, "llama3", req.Model)
		json.NewEncoder(w).Encode(completion("ok", 10))
	})

	p := NewHTTPProvider("local", config.Endpoint{BaseURL: srv.URL, Model: "default-model"}, 0)
	_, err := p.Generate(context.Background(), Prompt{User: "hi", ModelHint: "llama3"})
	require.NoError(t, err)
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})

	p := NewHTTPProvider("cloud", config.Endpoint{BaseURL: srv.URL}, 0.002)
	_, err := p.Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPProviderAPIError(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "invalid model"},
		})
	})

	p := NewHTTPProvider("cloud", config.Endpoint{BaseURL: srv.URL}, 0.002)
	_, err := p.Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid model")
}

func TestHTTPProviderEmptyChoices(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		json.NewEncoder(w).Encode(chatResponse{})
	})

	p := NewHTTPProvider("cloud", config.Endpoint{BaseURL: srv.URL}, 0.002)
	_, err := p.Generate(context.Background(), Prompt{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestHTTPProviderContextCancelled(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request, req chatRequest) {
		json.NewEncoder(w).Encode(completion("ok", 10))
	})

	p := NewHTTPProvider("cloud", config.Endpoint{BaseURL: srv.URL}, 0.002)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Generate(ctx, Prompt{User: "hi"})
	require.Error(t, err)
}
