package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/upb/llm-quota-router/services/providers"
)

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter("", providers.ProviderConfig{APIKey: "test-key"})

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}

	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}

	if adapter.config.Model != defaultModel {
		t.Errorf("Model = %s, want %s", adapter.config.Model, defaultModel)
	}

	openrouter := NewOpenAIAdapter("openrouter", providers.ProviderConfig{BaseURL: OpenRouterBaseURL, Model: "meta-llama/llama-3-8b-instruct:free"})
	if openrouter.Name() != "openrouter" {
		t.Errorf("Name() = %s, want openrouter", openrouter.Name())
	}
}

func TestBuilder(t *testing.T) {
	if _, err := Builder("openai", providers.ProviderConfig{}); err == nil {
		t.Error("Builder() expected error without api key")
	}

	p, err := Builder("openrouter", providers.ProviderConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("Builder() error = %v", err)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %s, want openrouter", p.Name())
	}
}

func TestOpenAIAdapter_GenerateCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Error("Authorization header missing or invalid")
		}

		body, _ := io.ReadAll(r.Body)
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}

		if req.Model != "gpt-4" {
			t.Errorf("Model = %s, want gpt-4", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "Hello" || req.Messages[0].Role != "user" {
			t.Errorf("Messages = %+v", req.Messages)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 100 {
			t.Errorf("MaxTokens = %v, want 100", req.MaxTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.7 {
			t.Errorf("Temperature = %v, want 0.7", req.Temperature)
		}

		resp := ChatResponse{
			ID:    "chatcmpl-test123",
			Model: req.Model,
			Choices: []Choice{
				{
					Message:      Message{Role: "assistant", Content: "This is a test response"},
					FinishReason: "stop",
				},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter("openai", providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	completion, err := adapter.GenerateCompletion(context.Background(), "Hello", providers.CompletionConfig{
		MaxTokens:   100,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}

	if completion.Text != "This is a test response" {
		t.Errorf("Unexpected response content: %s", completion.Text)
	}

	if completion.TokensUsed != 30 {
		t.Errorf("TokensUsed = %d, want 30", completion.TokensUsed)
	}
}

func TestOpenAIAdapter_GenerateCompletion_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind providers.ErrorKind
	}{
		{
			name:     "invalid api key",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantKind: providers.ErrorKindAuth,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"Rate limit reached","type":"requests"}}`,
			wantKind: providers.ErrorKindRateLimit,
		},
		{
			name:     "server error without json",
			status:   http.StatusBadGateway,
			body:     `upstream unavailable`,
			wantKind: providers.ErrorKindNetwork,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"Invalid request"}}`,
			wantKind: providers.ErrorKindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter("openai", providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})
			_, err := adapter.GenerateCompletion(context.Background(), "test", providers.CompletionConfig{MaxTokens: 10})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var provErr *providers.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if provErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
			}
			if provErr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", provErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestOpenAIAdapter_GenerateCompletion_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[],"usage":{"total_tokens":3}}`))
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter("openai", providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := adapter.GenerateCompletion(context.Background(), "test", providers.CompletionConfig{}); err == nil {
		t.Fatal("Expected error for empty choices")
	}
}

func TestOpenAIAdapter_GenerateCompletion_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter("openai", providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.GenerateCompletion(ctx, "test", providers.CompletionConfig{})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if kind := providers.KindOf(err); kind != providers.ErrorKindTimeout {
		t.Errorf("Kind = %s, want timeout", kind)
	}
}
