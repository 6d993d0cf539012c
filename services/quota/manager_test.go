package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
)

// MockLedgerStore is a mock implementation of repositories.LedgerStore
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) Load(ctx context.Context) (*models.UsageLedger, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UsageLedger), args.Error(1)
}

func (m *MockLedgerStore) Save(ctx context.Context, ledger *models.UsageLedger) error {
	args := m.Called(ctx, ledger)
	return args.Error(0)
}

// memStore keeps the last saved ledger
type memStore struct {
	mu     sync.Mutex
	ledger *models.UsageLedger
	saves  int
}

func (s *memStore) Load(ctx context.Context) (*models.UsageLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		return nil, repositories.ErrLedgerNotFound
	}
	return s.ledger.Clone(), nil
}

func (s *memStore) Save(ctx context.Context, ledger *models.UsageLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = ledger.Clone()
	s.saves++
	return nil
}

func (s *memStore) last() *models.UsageLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Clone()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func newTestManager(t *testing.T, limits map[string]Limits, store repositories.LedgerStore, clock *fakeClock) *Manager {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	if clock == nil {
		clock = newClock()
	}
	return NewManager(context.Background(), store, limits, DefaultSettings(), zap.NewNop(), WithClock(clock.Now))
}

func TestCanMakeRequest_RequestLimitWithMargin(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai": {Requests: 10, Tokens: 1000000, Cost: 1000},
	}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.True(t, m.CanMakeRequest("openai", 10, 0.001), "request %d should be admitted", i+1)
		m.RecordUsage(ctx, "openai", 10, 0.001, true)
	}

	assert.False(t, m.CanMakeRequest("openai", 10, 0.001), "9th request must be denied at safe limit 8")
}

func TestCanMakeRequest_TokenAndCostLimits(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"anthropic": {Requests: 1000, Tokens: 1000, Cost: 1},
	}, nil, nil)
	ctx := context.Background()

	assert.True(t, m.CanMakeRequest("anthropic", 800, 0))
	assert.False(t, m.CanMakeRequest("anthropic", 801, 0))
	assert.True(t, m.CanMakeRequest("anthropic", 0, 0.8))
	assert.False(t, m.CanMakeRequest("anthropic", 0, 0.81))

	m.RecordUsage(ctx, "anthropic", 700, 0.5, true)
	assert.False(t, m.CanMakeRequest("anthropic", 101, 0))
	assert.False(t, m.CanMakeRequest("anthropic", 0, 0.31))
	assert.True(t, m.CanMakeRequest("anthropic", 100, 0.3))
}

func TestCanMakeRequest_UnconfiguredAndUnlimited(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"google": {Requests: 2},
	}, nil, nil)

	assert.True(t, m.CanMakeRequest("replicate", 1<<30, 1e9), "providers without limits are allowed")
	assert.True(t, m.CanMakeRequest("google", 1<<30, 1e9), "zero token and cost limits mean unlimited")

	m.RecordUsage(context.Background(), "google", 0, 0, true)
	assert.False(t, m.CanMakeRequest("google", 0, 0), "second request crosses 2*0.8")
}

func TestRecordUsage_CountsFailures(t *testing.T) {
	store := &memStore{}
	m := newTestManager(t, map[string]Limits{"openai": {Requests: 100, Tokens: 1000, Cost: 10}}, store, nil)
	ctx := context.Background()

	m.RecordUsage(ctx, "openai", 120, 0.0036, true)
	m.RecordUsage(ctx, "openai", 0, 0, false)
	m.RecordUsage(ctx, "openai", -5, -1, false)

	want := models.ProviderUsage{Requests: 3, Tokens: 120, Cost: 0.0036, Successful: 1, Failed: 2}
	assert.Equal(t, want, m.Snapshot().Usage("openai"))
	assert.Equal(t, want, store.last().Usage("openai"))
	assert.Equal(t, "2026-03-04", store.last().Date)
}

func TestRecordUsage_PersistenceFailureIsFailOpen(t *testing.T) {
	store := new(MockLedgerStore)
	store.On("Load", mock.Anything).Return(nil, errors.New("permission denied"))
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	m := newTestManager(t, map[string]Limits{"openai": {Requests: 10}}, store, nil)

	assert.NotPanics(t, func() {
		m.RecordUsage(context.Background(), "openai", 50, 0.01, true)
	})
	assert.Equal(t, 1, m.Snapshot().Usage("openai").Requests)
	assert.Error(t, m.Flush(context.Background()))
	store.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRecordUsage_CancelledContextStillPersists(t *testing.T) {
	store := &memStore{}
	m := newTestManager(t, nil, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.RecordUsage(ctx, "openai", 10, 0.1, true)

	assert.Equal(t, 1, store.last().Usage("openai").Requests)
}

func TestNewManager_LoadsLedger(t *testing.T) {
	clock := newClock()

	t.Run("same day ledger is kept", func(t *testing.T) {
		store := &memStore{ledger: &models.UsageLedger{
			Date:      "2026-03-04",
			Providers: map[string]models.ProviderUsage{"openai": {Requests: 5, Tokens: 50}},
		}}
		m := newTestManager(t, nil, store, clock)
		assert.Equal(t, 5, m.Snapshot().Usage("openai").Requests)
		assert.Equal(t, 0, store.saves)
	})

	t.Run("stale ledger is reset and saved", func(t *testing.T) {
		store := &memStore{ledger: &models.UsageLedger{
			Date:      "2026-03-03",
			Providers: map[string]models.ProviderUsage{"openai": {Requests: 5}},
		}}
		m := newTestManager(t, nil, store, clock)
		assert.Equal(t, 0, m.Snapshot().Usage("openai").Requests)
		assert.Equal(t, "2026-03-04", store.last().Date)
		assert.Empty(t, store.last().Providers)
	})

	t.Run("corrupt ledger starts empty", func(t *testing.T) {
		store := new(MockLedgerStore)
		store.On("Load", mock.Anything).Return(nil, errors.New("invalid character"))
		m := newTestManager(t, nil, store, clock)
		assert.Equal(t, "2026-03-04", m.Snapshot().Date)
	})

	t.Run("nil store", func(t *testing.T) {
		m := NewManager(context.Background(), nil, nil, Settings{}, zap.NewNop(), WithClock(clock.Now))
		m.RecordUsage(context.Background(), "openai", 1, 0, true)
		assert.Equal(t, 0.8, m.Settings().SafetyMargin)
		assert.NoError(t, m.Flush(context.Background()))
	})
}

func TestResetDailyUsageIfNeeded(t *testing.T) {
	clock := newClock()
	store := &memStore{}
	m := newTestManager(t, map[string]Limits{"openai": {Requests: 10}}, store, clock)
	ctx := context.Background()

	m.RecordUsage(ctx, "openai", 10, 0.1, true)

	m.ResetDailyUsageIfNeeded()
	first := m.Snapshot()
	m.ResetDailyUsageIfNeeded()
	assert.Equal(t, first, m.Snapshot(), "same-day reset is a no-op")
	assert.Equal(t, 1, first.Usage("openai").Requests)

	clock.Advance(24 * time.Hour)
	m.ResetDailyUsageIfNeeded()
	afterFirst := m.Snapshot()
	m.ResetDailyUsageIfNeeded()
	afterSecond := m.Snapshot()

	assert.Equal(t, "2026-03-05", afterFirst.Date)
	assert.Empty(t, afterFirst.Providers)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, "2026-03-05", store.last().Date)
}

func TestCanMakeRequest_ResetsOnNewDay(t *testing.T) {
	clock := newClock()
	m := newTestManager(t, map[string]Limits{"openai": {Requests: 2}}, nil, clock)

	m.RecordUsage(context.Background(), "openai", 0, 0, true)
	assert.False(t, m.CanMakeRequest("openai", 0, 0))

	clock.Advance(14 * time.Hour)
	assert.True(t, m.CanMakeRequest("openai", 0, 0))
}

func TestProviderUsagePercent(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai": {Requests: 100, Tokens: 1000, Cost: 10},
		"google": {Requests: 100},
	}, nil, nil)
	ctx := context.Background()

	m.RecordUsage(ctx, "openai", 250, 5, true)
	m.RecordUsage(ctx, "google", 500, 1, true)

	pct := m.ProviderUsagePercent("openai")
	assert.InDelta(t, 1.0, pct.Requests, 1e-9)
	assert.InDelta(t, 25.0, pct.Tokens, 1e-9)
	assert.InDelta(t, 50.0, pct.Cost, 1e-9)

	assert.Equal(t, UsagePercent{Requests: 1}, m.ProviderUsagePercent("google"))
	assert.Equal(t, UsagePercent{}, m.ProviderUsagePercent("unknown"))
}

func TestAvailableAndBestProvider(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai":    {Requests: 10, Tokens: 1000, Cost: 10},
		"anthropic": {Requests: 10, Tokens: 1000, Cost: 10},
		"google":    {Requests: 10, Tokens: 1000, Cost: 10},
	}, nil, nil)
	ctx := context.Background()

	best, ok := m.BestProvider()
	require.True(t, ok)
	assert.Equal(t, "anthropic", best, "ties resolve by name")

	m.RecordUsage(ctx, "anthropic", 300, 1, true)
	m.RecordUsage(ctx, "openai", 100, 1, true)
	for i := 0; i < 8; i++ {
		m.RecordUsage(ctx, "google", 0, 0, true)
	}

	assert.Equal(t, []string{"anthropic", "openai"}, m.AvailableProviders())

	best, ok = m.BestProvider()
	require.True(t, ok)
	assert.Equal(t, "openai", best)
}

func TestBestProvider_NoneAvailable(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai": {Requests: 10, Tokens: 1000, Cost: 10},
		"google": {Requests: 10, Tokens: 1000, Cost: 10},
	}, nil, nil)
	ctx := context.Background()

	m.RecordUsage(ctx, "openai", 800, 0, true)
	m.RecordUsage(ctx, "google", 0, 8, true)

	assert.Empty(t, m.AvailableProviders())
	best, ok := m.BestProvider()
	assert.False(t, ok)
	assert.Empty(t, best)
}

func TestCostNeverExceedsSafeLimit(t *testing.T) {
	limits := map[string]Limits{"openai": {Requests: 1000, Tokens: 1000000, Cost: 1}}
	m := newTestManager(t, limits, nil, nil)
	ctx := context.Background()

	const estCost = 0.03
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, ok := m.Reserve("openai", 1000, estCost)
			if !ok {
				m.RecordUsage(ctx, "openai", 0, 0, false)
				return
			}
			res.Record(ctx, 1000, estCost, true)
		}()
	}
	wg.Wait()

	usage := m.Snapshot().Usage("openai")
	assert.LessOrEqual(t, usage.Cost, limits["openai"].Cost*0.8+1e-9)
	assert.Equal(t, 100, usage.Requests)
	assert.Equal(t, 26, usage.Successful)
}

func TestRecordUsage_ConcurrentNoLostUpdates(t *testing.T) {
	store := &memStore{}
	m := newTestManager(t, nil, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordUsage(ctx, "openai", 2, 0.5, true)
		}()
	}
	wg.Wait()

	usage := m.Snapshot().Usage("openai")
	assert.Equal(t, 50, usage.Requests)
	assert.Equal(t, 100, usage.Tokens)
	assert.InDelta(t, 25.0, usage.Cost, 1e-9)
	assert.Equal(t, usage, store.last().Usage("openai"), "newest snapshot is the one stored")
}

func TestReserve_HoldsCountTowardAdmission(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai":    {Requests: 10},
		"anthropic": {Tokens: 1000},
	}, nil, nil)
	ctx := context.Background()

	held := make([]*Reservation, 0, 8)
	for i := 0; i < 8; i++ {
		res, ok := m.Reserve("openai", 10, 0)
		require.True(t, ok, "reservation %d should be admitted", i+1)
		held = append(held, res)
	}
	assert.Equal(t, 8, m.InFlight("openai"))
	assert.Zero(t, m.Snapshot().Usage("openai").Requests, "holds are not usage")

	res, ok := m.Reserve("openai", 10, 0)
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.False(t, m.CanMakeRequest("openai", 10, 0))

	held[0].Release()
	held[0].Release()
	assert.Equal(t, 7, m.InFlight("openai"), "release is idempotent")
	assert.True(t, m.CanMakeRequest("openai", 10, 0))

	held[1].Record(ctx, 40, 0, true)
	held[1].Release()
	assert.Equal(t, 6, m.InFlight("openai"))
	usage := m.Snapshot().Usage("openai")
	assert.Equal(t, 1, usage.Requests)
	assert.Equal(t, 40, usage.Tokens)

	t.Run("tokens", func(t *testing.T) {
		first, ok := m.Reserve("anthropic", 500, 0)
		require.True(t, ok)
		_, ok = m.Reserve("anthropic", 500, 0)
		assert.False(t, ok, "500 held + 500 crosses 1000*0.8")

		first.Record(ctx, 100, 0, true)
		_, ok = m.Reserve("anthropic", 500, 0)
		assert.True(t, ok, "recorded usage replaces the estimate")
	})

	t.Run("unlimited", func(t *testing.T) {
		res, ok := m.Reserve("replicate", 1<<20, 10)
		require.True(t, ok)
		require.NotNil(t, res)
		assert.Zero(t, m.InFlight("replicate"))
		res.Record(ctx, 5, 0, true)
		assert.Equal(t, 1, m.Snapshot().Usage("replicate").Requests)
	})
}

func TestRecordUsage_StoredBeforeReturn(t *testing.T) {
	store := &memStore{}
	m := newTestManager(t, nil, store, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		m.RecordUsage(ctx, "openai", 10, 0, true)
		assert.Equal(t, i, store.last().Usage("openai").Requests)
	}
	assert.GreaterOrEqual(t, store.saves, 3)
}
