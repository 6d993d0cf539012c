package quota

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
)

type versionedLedger struct {
	version uint64
	ledger  *models.UsageLedger
}

// ledgerSaver serializes writes to the store and drops snapshots older
// than the last one written, so concurrent records cannot roll the stored
// ledger backwards.
type ledgerSaver struct {
	mu      sync.Mutex
	store   repositories.LedgerStore
	written uint64
	logger  *zap.Logger
}

func newLedgerSaver(store repositories.LedgerStore, logger *zap.Logger) *ledgerSaver {
	return &ledgerSaver{store: store, logger: logger}
}

// save logs and swallows store errors
func (s *ledgerSaver) save(ctx context.Context, snapshot *versionedLedger) {
	if err := s.saveErr(ctx, snapshot); err != nil {
		s.logger.Error("could not save usage ledger",
			zap.String("date", snapshot.ledger.Date),
			zap.Error(err))
	}
}

func (s *ledgerSaver) saveErr(ctx context.Context, snapshot *versionedLedger) error {
	if s.store == nil || snapshot == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.version <= s.written {
		return nil
	}

	// The request context may already be done once the provider answered
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := s.store.Save(ctx, snapshot.ledger); err != nil {
		return err
	}
	s.written = snapshot.version
	return nil
}
