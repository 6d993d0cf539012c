package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/llm-quota-router/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4"

	// OpenRouterBaseURL serves the same chat completions API
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIAdapter implements the Provider interface for OpenAI and any
// backend speaking the OpenAI chat completions API (e.g. OpenRouter)
type OpenAIAdapter struct {
	name       string
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new adapter registered under name
func NewOpenAIAdapter(name string, config providers.ProviderConfig) *OpenAIAdapter {
	if name == "" {
		name = "openai"
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	if config.Model == "" {
		config.Model = defaultModel
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OpenAIAdapter{
		name:   name,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Builder adapts NewOpenAIAdapter to providers.ProviderBuilder
func Builder(name string, config providers.ProviderConfig) (providers.Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", name)
	}
	return NewOpenAIAdapter(name, config), nil
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// GenerateCompletion sends the prompt as a single user message
func (a *OpenAIAdapter) GenerateCompletion(ctx context.Context, prompt string, cfg providers.CompletionConfig) (*providers.Completion, error) {
	model := cfg.Model
	if model == "" {
		model = a.config.Model
	}

	chatReq := &ChatRequest{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
	}
	if cfg.MaxTokens > 0 {
		chatReq.MaxTokens = &cfg.MaxTokens
	}
	temperature := cfg.Temperature
	chatReq.Temperature = &temperature

	reqBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.ErrorKindUnknown, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.ErrorKindUnknown, "failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(a.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.name, providers.ErrorKindNetwork, "failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.name, providers.ErrorKindUnknown, "failed to unmarshal response", httpResp.StatusCode, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.name, providers.ErrorKindUnknown, "response has no choices", httpResp.StatusCode, nil)
	}

	return &providers.Completion{
		Text:       chatResp.Choices[0].Message.Content,
		TokensUsed: chatResp.Usage.TotalTokens,
		Model:      chatResp.Model,
	}, nil
}

// handleErrorResponse maps an error body and status to a ProviderError
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	kind := providers.KindFromStatus(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.name, kind, fmt.Sprintf("unexpected status %d: %s", statusCode, string(body)), statusCode, nil)
	}

	return providers.NewProviderError(a.name, kind, errResp.Error.Message, statusCode, nil)
}

// Wire types of the chat completions API

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
