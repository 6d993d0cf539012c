// Package redisstore keeps the usage ledger in Redis so several gateway
// replicas can share one admission view.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/config"
	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
)

// ledgerTTL keeps yesterday's document around briefly after a reset
const ledgerTTL = 48 * time.Hour

// NewClient opens and pings a Redis client
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// LedgerStore stores the ledger as one JSON value under key
type LedgerStore struct {
	rdb    redis.Cmdable
	key    string
	logger *zap.Logger
}

// NewLedgerStore creates a store over any go-redis client
func NewLedgerStore(rdb redis.Cmdable, key string, logger *zap.Logger) *LedgerStore {
	if key == "" {
		key = "router:usage-ledger"
	}
	return &LedgerStore{rdb: rdb, key: key, logger: logger}
}

var _ repositories.LedgerStore = (*LedgerStore)(nil)

// Load fetches and decodes the ledger
func (s *LedgerStore) Load(ctx context.Context) (*models.UsageLedger, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repositories.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger from redis: %w", err)
	}

	var ledger models.UsageLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", s.key, err)
	}
	if !ledger.Valid() {
		return nil, fmt.Errorf("ledger %s has invalid date %q", s.key, ledger.Date)
	}
	if ledger.Providers == nil {
		ledger.Providers = make(map[string]models.ProviderUsage)
	}
	return &ledger, nil
}

// Save replaces the stored ledger. SET is atomic, so readers never see a partial document.
func (s *LedgerStore) Save(ctx context.Context, ledger *models.UsageLedger) error {
	if !ledger.Valid() {
		return fmt.Errorf("refusing to save ledger without a valid date")
	}

	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key, data, ledgerTTL).Err(); err != nil {
		return fmt.Errorf("failed to write ledger to redis: %w", err)
	}

	s.logger.Debug("usage ledger saved", zap.String("key", s.key), zap.String("date", ledger.Date))
	return nil
}

// HealthCheck pings the Redis server
func (s *LedgerStore) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
