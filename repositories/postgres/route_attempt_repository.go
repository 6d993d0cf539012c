package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
	"go.uber.org/zap"
)

// RouteAttemptRepository implements repositories.RouteAttemptRepository
type RouteAttemptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRouteAttemptRepository creates a new route attempt repository
func NewRouteAttemptRepository(db *DB, logger *zap.Logger) repositories.RouteAttemptRepository {
	return &RouteAttemptRepository{
		db:     db,
		logger: logger,
	}
}

const routeAttemptColumns = `id, request_id, provider, strategy, task_type, outcome,
		       error_kind, error_message, tokens, cost, latency_ms, created_at`

// Create stores one attempt
func (r *RouteAttemptRepository) Create(ctx context.Context, attempt *models.RouteAttempt) error {
	query := `
		INSERT INTO route_attempts (
			id, request_id, provider, strategy, task_type, outcome,
			error_kind, error_message, tokens, cost, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		attempt.ID,
		attempt.RequestID,
		attempt.Provider,
		attempt.Strategy,
		nullString(attempt.TaskType),
		attempt.Outcome,
		nullString(attempt.ErrorKind),
		nullString(attempt.Error),
		attempt.Tokens,
		attempt.Cost,
		attempt.LatencyMs,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert route attempt: %w", err)
	}

	r.logger.Debug("route attempt inserted",
		zap.String("request_id", attempt.RequestID),
		zap.String("provider", attempt.Provider),
		zap.String("outcome", string(attempt.Outcome)))
	return nil
}

// ListRecent returns the newest attempts first
func (r *RouteAttemptRepository) ListRecent(ctx context.Context, limit int) ([]*models.RouteAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + routeAttemptColumns + `
		FROM route_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.queryAttempts(ctx, query, limit)
}

// ListByRequestID returns the attempts of one route call in order
func (r *RouteAttemptRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.RouteAttempt, error) {
	query := `
		SELECT ` + routeAttemptColumns + `
		FROM route_attempts
		WHERE request_id = $1
		ORDER BY created_at ASC
	`
	return r.queryAttempts(ctx, query, requestID)
}

// GetProviderSummary aggregates attempts per provider for one UTC day
func (r *RouteAttemptRepository) GetProviderSummary(ctx context.Context, day string) ([]*repositories.ProviderAttemptSummary, error) {
	query := `
		SELECT
			provider,
			COUNT(*) AS attempts,
			COUNT(*) FILTER (WHERE outcome IN ('success', 'cache_hit')) AS successes,
			COUNT(*) FILTER (WHERE outcome = 'failed') AS failures,
			COUNT(*) FILTER (WHERE outcome = 'admission_denied') AS denied,
			COALESCE(SUM(tokens), 0) AS total_tokens,
			COALESCE(SUM(cost), 0) AS total_cost,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM route_attempts
		WHERE created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day'
		GROUP BY provider
		ORDER BY provider
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize route attempts: %w", err)
	}
	defer rows.Close()

	var summaries []*repositories.ProviderAttemptSummary
	for rows.Next() {
		s := &repositories.ProviderAttemptSummary{}
		if err := rows.Scan(
			&s.Provider,
			&s.Attempts,
			&s.Successes,
			&s.Failures,
			&s.Denied,
			&s.TotalTokens,
			&s.TotalCost,
			&s.AvgLatencyMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt summary: %w", err)
	}

	return summaries, nil
}

func (r *RouteAttemptRepository) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]*models.RouteAttempt, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query route attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.RouteAttempt
	for rows.Next() {
		var (
			a                          models.RouteAttempt
			taskType, kind, errMessage sql.NullString
		)
		if err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.Provider,
			&a.Strategy,
			&taskType,
			&a.Outcome,
			&kind,
			&errMessage,
			&a.Tokens,
			&a.Cost,
			&a.LatencyMs,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan route attempt: %w", err)
		}
		a.TaskType = taskType.String
		a.ErrorKind = kind.String
		a.Error = errMessage.String
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating route attempts: %w", err)
	}

	return attempts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
