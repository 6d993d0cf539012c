package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return WrapDB(db, zap.NewNop()), mock
}

func TestLedgerRepository_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("returns latest day with its rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT day FROM usage_ledger_days").
			WillReturnRows(sqlmock.NewRows([]string{"day"}).
				AddRow(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)))
		mock.ExpectQuery("FROM usage_ledger").
			WithArgs("2026-03-04").
			WillReturnRows(sqlmock.NewRows([]string{"provider", "requests", "tokens", "cost", "successful", "failed"}).
				AddRow("google", 3, 450, 0.1125, 2, 1).
				AddRow("openai", 1, 100, 0.003, 1, 0))

		ledger, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-04", ledger.Date)
		assert.Equal(t, models.ProviderUsage{Requests: 3, Tokens: 450, Cost: 0.1125, Successful: 2, Failed: 1}, ledger.Usage("google"))
		assert.Equal(t, 1, ledger.Usage("openai").Requests)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found when table is empty", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT day FROM usage_ledger_days").
			WillReturnRows(sqlmock.NewRows([]string{"day"}))

		_, err := repo.Load(ctx)
		assert.True(t, errors.Is(err, repositories.ErrLedgerNotFound))
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT day FROM usage_ledger_days").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.Load(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, repositories.ErrLedgerNotFound))
	})
}

func TestLedgerRepository_Save(t *testing.T) {
	ctx := context.Background()

	ledger := &models.UsageLedger{
		Date: "2026-03-04",
		Providers: map[string]models.ProviderUsage{
			"openai": {Requests: 2, Tokens: 200, Cost: 0.006, Successful: 2},
			"google": {Requests: 1, Failed: 1},
		},
	}

	t.Run("upserts day and rows in a transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO usage_ledger_days").
			WithArgs("2026-03-04").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage_ledger ").
			WithArgs("2026-03-04", "google", 1, 0, 0.0, 0, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage_ledger ").
			WithArgs("2026-03-04", "openai", 2, 200, 0.006, 2, 0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Save(ctx, ledger))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on row failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO usage_ledger_days").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage_ledger ").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		assert.Error(t, repo.Save(ctx, ledger))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects invalid date", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewLedgerRepository(db, zap.NewNop())

		assert.Error(t, repo.Save(ctx, &models.UsageLedger{Date: "yesterday"}))
		assert.Error(t, repo.Save(ctx, nil))
	})
}

func TestDB_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, WrapDB(db, zap.NewNop()).HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
