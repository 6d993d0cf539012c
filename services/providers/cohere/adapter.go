package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-quota-router/services/providers"
)

const (
	defaultBaseURL = "https://api.cohere.com/v2"
	defaultModel   = "command-r"
)

// Adapter implements the Provider interface for the Cohere v2 chat API
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAdapter creates a new Cohere adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Builder adapts NewAdapter to providers.ProviderBuilder
func Builder(name string, config providers.ProviderConfig) (providers.Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", name)
	}
	return NewAdapter(config), nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "cohere"
}

// GenerateCompletion sends the prompt as a single user message
func (a *Adapter) GenerateCompletion(ctx context.Context, prompt string, cfg providers.CompletionConfig) (*providers.Completion, error) {
	model := cfg.Model
	if model == "" {
		model = a.config.Model
	}

	chatReq := ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		chatReq.MaxTokens = cfg.MaxTokens
	}

	reqBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindUnknown, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindUnknown, "failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(a.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindNetwork, "failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp struct {
			Message string `json:"message"`
		}
		msg := fmt.Sprintf("unexpected status %d", httpResp.StatusCode)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return nil, providers.NewProviderError(a.Name(), providers.KindFromStatus(httpResp.StatusCode), msg, httpResp.StatusCode, nil)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindUnknown, "failed to unmarshal response", httpResp.StatusCode, err)
	}

	var text strings.Builder
	for _, c := range chatResp.Message.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	// billed units exclude prompt-template overhead; prefer them when present
	tokens := chatResp.Usage.BilledUnits.InputTokens + chatResp.Usage.BilledUnits.OutputTokens
	if tokens == 0 {
		tokens = chatResp.Usage.Tokens.InputTokens + chatResp.Usage.Tokens.OutputTokens
	}

	return &providers.Completion{
		Text:       text.String(),
		TokensUsed: tokens,
		Model:      model,
	}, nil
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tokenCounts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ChatResponse struct {
	ID      string `json:"id"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Usage struct {
		BilledUnits tokenCounts `json:"billed_units"`
		Tokens      tokenCounts `json:"tokens"`
	} `json:"usage"`
}
