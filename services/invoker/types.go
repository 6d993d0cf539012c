package invoker

import (
	"context"
	"time"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/services/providers"
	"github.com/upb/llm-quota-router/services/quota"
)

const (
	// DefaultMaxTokens is used when a request does not set MaxTokens
	DefaultMaxTokens = 1000

	// DefaultTemperature is used when a request does not set Temperature
	DefaultTemperature = 0.7

	// DefaultTimeout bounds one provider call
	DefaultTimeout = 30 * time.Second
)

// ProviderSource resolves provider ids to implementations
type ProviderSource interface {
	GetProvider(name string) (providers.Provider, error)
}

// QuotaGate is the admission controller and usage ledger. An admitted
// request holds its estimate until the reservation records, so concurrent
// admissions see each other.
type QuotaGate interface {
	Reserve(provider string, estTokens int, estCost float64) (*quota.Reservation, bool)
	RecordUsage(ctx context.Context, provider string, tokens int, cost float64, success bool)
}

// CostEstimator converts tokens to cost
type CostEstimator interface {
	Estimate(provider string, tokens int) float64
}

// SpendTracker holds the running monthly spend and its ceiling
type SpendTracker interface {
	Add(cost float64)
	ExceedsCeiling() bool
}

// AttemptRecorder receives every step of the fallback loop
type AttemptRecorder interface {
	RecordAttempt(attempt *models.RouteAttempt)
}

// Metrics observes routing outcomes
type Metrics interface {
	ObserveAttempt(provider string, outcome models.AttemptOutcome, latency time.Duration)
	ObserveRoute(strategy string, success, fromCache bool, latency time.Duration)
	AddCost(provider string, cost float64)
}

// Request is one routing call with its ordered candidates
type Request struct {
	RequestID   string
	Prompt      string
	Candidates  []string
	Strategy    string
	TaskType    string
	MaxTokens   int
	Temperature *float64
	Model       string

	// MaxCost skips candidates whose pre-call estimate is above it; 0 disables
	MaxCost float64

	// Timeout bounds each provider call; 0 uses the invoker default
	Timeout time.Duration
}

// Attempt summarizes one candidate step in a Result
type Attempt struct {
	Provider  string                `json:"provider"`
	Outcome   models.AttemptOutcome `json:"outcome"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Error     string                `json:"error,omitempty"`
	LatencyMs int64                 `json:"latency_ms"`
}

// Result is the normalized outcome of a routing call
type Result struct {
	Success       bool      `json:"success"`
	Response      string    `json:"response,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	Tokens        int       `json:"tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	Strategy      string    `json:"strategy"`
	TaskType      string    `json:"task_type,omitempty"`
	FromCache     bool      `json:"from_cache"`
	Coalesced     bool      `json:"coalesced,omitempty"` // answer shared from an identical in-flight request
	RequestID     string    `json:"request_id,omitempty"`
	Attempts      []Attempt `json:"attempts,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// clone copies r so coalesced callers do not share slices
func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Attempts = append([]Attempt(nil), r.Attempts...)
	return &out
}
