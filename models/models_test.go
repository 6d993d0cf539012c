package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageLedger(t *testing.T) {
	t.Run("new ledger uses the UTC day", func(t *testing.T) {
		bogota := time.FixedZone("COT", -5*60*60)
		ledger := NewUsageLedger(time.Date(2026, 3, 1, 22, 30, 0, 0, bogota))

		assert.Equal(t, "2026-03-02", ledger.Date)
		assert.NotNil(t, ledger.Providers)
		assert.True(t, ledger.Valid())
	})

	t.Run("usage of absent provider is zero", func(t *testing.T) {
		var nilLedger *UsageLedger
		assert.Equal(t, ProviderUsage{}, nilLedger.Usage("openai"))
		assert.Equal(t, ProviderUsage{}, (&UsageLedger{}).Usage("openai"))
	})

	t.Run("clone is independent", func(t *testing.T) {
		ledger := NewUsageLedger(time.Now())
		ledger.Providers["google"] = ProviderUsage{Requests: 2, Tokens: 300, Cost: 0.1, Successful: 2}

		clone := ledger.Clone()
		require.NotNil(t, clone)
		clone.Providers["google"] = ProviderUsage{Requests: 99}

		assert.Equal(t, 2, ledger.Usage("google").Requests)
		assert.Equal(t, 99, clone.Usage("google").Requests)
		assert.Nil(t, (*UsageLedger)(nil).Clone())
	})

	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name   string
			ledger *UsageLedger
			want   bool
		}{
			{"nil", nil, false},
			{"empty date", &UsageLedger{}, false},
			{"garbage date", &UsageLedger{Date: "yesterday"}, false},
			{"timestamp instead of day", &UsageLedger{Date: "2026-03-02T10:00:00Z"}, false},
			{"day", &UsageLedger{Date: "2026-03-02"}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, tt.ledger.Valid())
			})
		}
	})
}

func TestRouteAttempt(t *testing.T) {
	attempt := NewRouteAttempt("req-1", "openai", "failover", AttemptOutcomeFailed)

	assert.NotEqual(t, uuid.Nil, attempt.ID)
	assert.Equal(t, "req-1", attempt.RequestID)
	assert.Equal(t, time.UTC, attempt.CreatedAt.Location())
	assert.Equal(t, "route_attempts", attempt.TableName())

	tests := []struct {
		outcome AttemptOutcome
		success bool
	}{
		{AttemptOutcomeSuccess, true},
		{AttemptOutcomeCacheHit, true},
		{AttemptOutcomeDenied, false},
		{AttemptOutcomeSkipped, false},
		{AttemptOutcomeFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			attempt.Outcome = tt.outcome
			assert.Equal(t, tt.success, attempt.IsSuccess())
		})
	}
}
