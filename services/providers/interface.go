package providers

import (
	"context"
	"errors"
	"net"
	"time"
)

// Provider is the capability every routable backend exposes
type Provider interface {
	// Name returns the provider id used in routing, quotas and pricing (e.g. "openai")
	Name() string

	// GenerateCompletion turns a prompt into text
	GenerateCompletion(ctx context.Context, prompt string, cfg CompletionConfig) (*Completion, error)
}

// CompletionConfig carries the per-call generation settings
type CompletionConfig struct {
	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens"`

	// Temperature controls randomness
	Temperature float64 `json:"temperature"`

	// Model overrides the provider's default model when set
	Model string `json:"model,omitempty"`
}

// Completion is a normalized provider response
type Completion struct {
	Text string `json:"text"`

	// TokensUsed is the provider-reported total; zero when the backend does not report usage
	TokensUsed int `json:"tokens_used"`

	Model string `json:"model,omitempty"`
}

// Descriptor is the static routing metadata of a provider
type Descriptor struct {
	Name string `json:"name" yaml:"name"`

	// Tags list the task types the provider is good at (coding, creative, analysis, ...)
	Tags []string `json:"tags,omitempty" yaml:"tags"`

	// CostPer1K is the price of 1000 tokens in USD
	CostPer1K float64 `json:"cost_per_1k" yaml:"cost_per_1k"`

	Model string `json:"model,omitempty" yaml:"model"`
}

// HasTag reports whether the descriptor carries the capability tag
func (d Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Model used when a request does not name one
	Model string

	// Timeout for requests
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 30 * time.Second,
		Headers: make(map[string]string),
	}
}

// ErrorKind classifies provider failures
type ErrorKind string

const (
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	Kind ErrorKind

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, kind ErrorKind, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// KindFromStatus maps an HTTP status code to an error kind
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrorKindAuth
	case status == 429:
		return ErrorKindRateLimit
	case status == 408 || status == 504:
		return ErrorKindTimeout
	case status >= 500:
		return ErrorKindNetwork
	default:
		return ErrorKindUnknown
	}
}

// KindOf classifies any error returned from a provider call
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	}

	return ErrorKindUnknown
}

// WrapTransportError converts a failed round trip into a ProviderError
func WrapTransportError(provider string, err error) *ProviderError {
	kind := KindOf(err)
	if kind == ErrorKindUnknown {
		kind = ErrorKindNetwork
	}
	return NewProviderError(provider, kind, "request failed", 0, err)
}
