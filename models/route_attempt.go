package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptOutcome is the result of trying one candidate provider
type AttemptOutcome string

const (
	AttemptOutcomeSuccess  AttemptOutcome = "success"
	AttemptOutcomeCacheHit AttemptOutcome = "cache_hit"
	AttemptOutcomeDenied   AttemptOutcome = "admission_denied"
	AttemptOutcomeSkipped  AttemptOutcome = "skipped"
	AttemptOutcomeFailed   AttemptOutcome = "failed"
)

// RouteAttempt records one step of the fallback loop
type RouteAttempt struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	RequestID string         `json:"request_id" db:"request_id"`
	Provider  string         `json:"provider" db:"provider"`
	Strategy  string         `json:"strategy" db:"strategy"`
	TaskType  string         `json:"task_type,omitempty" db:"task_type"`
	Outcome   AttemptOutcome `json:"outcome" db:"outcome"`
	ErrorKind string         `json:"error_kind,omitempty" db:"error_kind"`
	Error     string         `json:"error,omitempty" db:"error_message"`
	Tokens    int            `json:"tokens" db:"tokens"`
	Cost      float64        `json:"cost" db:"cost"`
	LatencyMs int            `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// NewRouteAttempt creates an attempt record stamped with a new id and the current time
func NewRouteAttempt(requestID, provider, strategy string, outcome AttemptOutcome) *RouteAttempt {
	return &RouteAttempt{
		ID:        uuid.New(),
		RequestID: requestID,
		Provider:  provider,
		Strategy:  strategy,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// TableName returns the table name for RouteAttempt
func (RouteAttempt) TableName() string {
	return "route_attempts"
}

// IsSuccess reports whether the attempt produced a response
func (a *RouteAttempt) IsSuccess() bool {
	return a.Outcome == AttemptOutcomeSuccess || a.Outcome == AttemptOutcomeCacheHit
}
