package repositories

import (
	"context"
	"errors"

	"github.com/upb/llm-quota-router/models"
)

// ErrLedgerNotFound is returned by a LedgerStore that holds no ledger yet
var ErrLedgerNotFound = errors.New("usage ledger not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// LedgerStore persists the daily usage ledger.
// Save overwrites the stored ledger in place and must never leave a
// partially written document behind.
type LedgerStore interface {
	// Load returns the stored ledger or ErrLedgerNotFound
	Load(ctx context.Context) (*models.UsageLedger, error)

	// Save replaces the stored ledger
	Save(ctx context.Context, ledger *models.UsageLedger) error
}

// RouteAttemptRepository stores the audit trail of routing attempts
type RouteAttemptRepository interface {
	// Create stores one attempt
	Create(ctx context.Context, attempt *models.RouteAttempt) error

	// ListRecent returns the newest attempts first
	ListRecent(ctx context.Context, limit int) ([]*models.RouteAttempt, error)

	// ListByRequestID returns the attempts of one route call in order
	ListByRequestID(ctx context.Context, requestID string) ([]*models.RouteAttempt, error)

	// GetProviderSummary aggregates attempts per provider since the start of the UTC day
	GetProviderSummary(ctx context.Context, day string) ([]*ProviderAttemptSummary, error)
}

// ProviderAttemptSummary aggregates route attempts for one provider
type ProviderAttemptSummary struct {
	Provider     string  `json:"provider"`
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	Denied       int     `json:"denied"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Repositories aggregates the repository interfaces
type Repositories struct {
	Ledger        LedgerStore
	RouteAttempts RouteAttemptRepository
}
