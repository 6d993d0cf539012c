package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
	"go.uber.org/zap"
)

// LedgerRepository stores the usage ledger in usage_ledger_days/usage_ledger
type LedgerRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DB, logger *zap.Logger) repositories.LedgerStore {
	return &LedgerRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Load returns the ledger of the most recent stored day
func (r *LedgerRepository) Load(ctx context.Context) (*models.UsageLedger, error) {
	executor := GetExecutor(ctx, r.db)

	var day time.Time
	err := executor.QueryRowContext(ctx,
		`SELECT day FROM usage_ledger_days ORDER BY day DESC LIMIT 1`,
	).Scan(&day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to load ledger day: %w", err)
	}

	ledger := models.NewUsageLedger(day)

	rows, err := executor.QueryContext(ctx, `
		SELECT provider, requests, tokens, cost, successful, failed
		FROM usage_ledger
		WHERE day = $1
		ORDER BY provider
	`, ledger.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider string
			usage    models.ProviderUsage
		)
		if err := rows.Scan(&provider, &usage.Requests, &usage.Tokens, &usage.Cost, &usage.Successful, &usage.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		ledger.Providers[provider] = usage
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return ledger, nil
}

// Save upserts the ledger day and every provider row in one transaction
func (r *LedgerRepository) Save(ctx context.Context, ledger *models.UsageLedger) error {
	if !ledger.Valid() {
		return fmt.Errorf("invalid ledger date %q", ledgerDate(ledger))
	}

	names := make([]string, 0, len(ledger.Providers))
	for name := range ledger.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return r.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)

		if _, err := executor.ExecContext(ctx, `
			INSERT INTO usage_ledger_days (day, updated_at)
			VALUES ($1, CURRENT_TIMESTAMP)
			ON CONFLICT (day) DO UPDATE SET updated_at = EXCLUDED.updated_at
		`, ledger.Date); err != nil {
			return fmt.Errorf("failed to upsert ledger day: %w", err)
		}

		for _, name := range names {
			u := ledger.Providers[name]
			if _, err := executor.ExecContext(ctx, `
				INSERT INTO usage_ledger (day, provider, requests, tokens, cost, successful, failed)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (day, provider) DO UPDATE SET
					requests = EXCLUDED.requests,
					tokens = EXCLUDED.tokens,
					cost = EXCLUDED.cost,
					successful = EXCLUDED.successful,
					failed = EXCLUDED.failed
			`, ledger.Date, name, u.Requests, u.Tokens, u.Cost, u.Successful, u.Failed); err != nil {
				return fmt.Errorf("failed to upsert ledger row %s: %w", name, err)
			}
		}

		r.logger.Debug("usage ledger saved",
			zap.String("date", ledger.Date),
			zap.Int("providers", len(names)))
		return nil
	})
}

func ledgerDate(l *models.UsageLedger) string {
	if l == nil {
		return ""
	}
	return l.Date
}
