package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
)

// LedgerStore keeps the usage ledger in a single JSON file
type LedgerStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewLedgerStore creates the parent directory of path if needed
func NewLedgerStore(path string, logger *zap.Logger) (*LedgerStore, error) {
	if path == "" {
		return nil, errors.New("ledger file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &LedgerStore{path: path, logger: logger}, nil
}

// Path returns the ledger file location
func (s *LedgerStore) Path() string {
	return s.path
}

// Load reads and decodes the ledger file
func (s *LedgerStore) Load(ctx context.Context) (*models.UsageLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, repositories.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var ledger models.UsageLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", s.path, err)
	}
	if !ledger.Valid() {
		return nil, fmt.Errorf("ledger %s has invalid date %q", s.path, ledger.Date)
	}
	if ledger.Providers == nil {
		ledger.Providers = make(map[string]models.ProviderUsage)
	}

	return &ledger, nil
}

// Save writes the ledger to a temp file in the same directory and renames it
// over the old one, so readers see either the old or the new document.
func (s *LedgerStore) Save(ctx context.Context, ledger *models.UsageLedger) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	s.logger.Debug("usage ledger saved", zap.String("path", s.path), zap.String("date", ledger.Date))
	return nil
}
