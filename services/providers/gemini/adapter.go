package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/upb/llm-quota-router/services/providers"
)

const defaultModel = "gemini-pro"

// contentGenerator is the slice of *genai.Models the adapter needs
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Adapter implements the Provider interface on top of the Gemini API SDK
type Adapter struct {
	models contentGenerator
	model  string
}

// NewAdapter creates a Gemini client for the given api key
func NewAdapter(ctx context.Context, config providers.ProviderConfig) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return newAdapter(client.Models, config.Model), nil
}

func newAdapter(models contentGenerator, model string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	return &Adapter{models: models, model: model}
}

// Builder adapts NewAdapter to providers.ProviderBuilder
func Builder(name string, config providers.ProviderConfig) (providers.Provider, error) {
	return NewAdapter(context.Background(), config)
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "google"
}

// GenerateCompletion sends the prompt as a single user content
func (a *Adapter) GenerateCompletion(ctx context.Context, prompt string, cfg providers.CompletionConfig) (*providers.Completion, error) {
	model := cfg.Model
	if model == "" {
		model = a.model
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(cfg.Temperature)),
	}
	if cfg.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	resp, err := a.models.GenerateContent(ctx, model, genai.Text(prompt), genConfig)
	if err != nil {
		return nil, a.wrapError(err)
	}

	completion := &providers.Completion{
		Text:  resp.Text(),
		Model: model,
	}
	if resp.UsageMetadata != nil {
		completion.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return completion, nil
}

func (a *Adapter) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(a.Name(), providers.KindFromStatus(apiErr.Code), apiErr.Message, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return providers.NewProviderError(a.Name(), providers.KindFromStatus(apiErrPtr.Code), apiErrPtr.Message, apiErrPtr.Code, err)
	}
	return providers.WrapTransportError(a.Name(), err)
}
