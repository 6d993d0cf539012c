package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
	"github.com/upb/llm-quota-router/services"
	"github.com/upb/llm-quota-router/services/budget"
	"github.com/upb/llm-quota-router/services/cache"
	"github.com/upb/llm-quota-router/services/invoker"
	"github.com/upb/llm-quota-router/services/pricing"
	"github.com/upb/llm-quota-router/services/providers"
	"github.com/upb/llm-quota-router/services/providers/providertest"
	"github.com/upb/llm-quota-router/services/quota"
)

type memLedger struct {
	mu     sync.Mutex
	ledger *models.UsageLedger
}

func (s *memLedger) Load(ctx context.Context) (*models.UsageLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		return nil, repositories.ErrLedgerNotFound
	}
	return s.ledger.Clone(), nil
}

func (s *memLedger) Save(ctx context.Context, ledger *models.UsageLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = ledger.Clone()
	return nil
}

type testRouter struct {
	*Router
	fakes   map[string]*providertest.Fake
	tracker *budget.Tracker
	quota   *quota.Manager
}

// newTestRouter registers one fake per name; tags optionally set descriptor tags
func newTestRouter(t *testing.T, cfg Config, names []string, tags map[string][]string) *testRouter {
	t.Helper()

	logger := zap.NewNop()
	registry := providers.NewRegistry()
	fakes := make(map[string]*providertest.Fake, len(names))
	for _, name := range names {
		f := providertest.New(name)
		fakes[name] = f
		require.NoError(t, registry.RegisterProvider(f, providers.Descriptor{Tags: tags[name]}))
	}

	estimator := pricing.NewEstimator(nil, pricing.DefaultRate)
	q := quota.NewManager(context.Background(), &memLedger{}, nil, quota.DefaultSettings(), logger)
	tracker := budget.NewTracker(100, logger)
	inv := invoker.New(registry, q, estimator, tracker, cache.NewResponseCache(time.Minute), invoker.Config{}, logger)

	return &testRouter{
		Router:  NewRouter(cfg, registry, estimator, inv, tracker, logger),
		fakes:   fakes,
		tracker: tracker,
		quota:   q,
	}
}

func TestClassifyTask(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
	}{
		{"debug this code", TaskCoding},
		{"Help me with PROGRAMMING", TaskCoding},
		{"analyze the sales numbers", TaskAnalysis},
		{"research quantum dots", TaskAnalysis},
		{"tell me a story", TaskCreative},
		{"translate this to French", TaskTranslation},
		{"which language is spoken here", TaskTranslation},
		{"hello there", TaskGeneral},
		{"write code for a parser", TaskCoding},
		{"write about data", TaskAnalysis},
		{"", TaskGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTask(tt.prompt))
		})
	}
}

func TestPlan(t *testing.T) {
	all := []string{"anthropic", "cohere", "google", "openai"}

	tests := []struct {
		name     string
		cfg      Config
		strategy string
		prompt   string
		want     Plan
	}{
		{
			name:     "cost optimized follows the rate table",
			cfg:      DefaultConfig(),
			strategy: "cost_optimized",
			want:     Plan{Strategy: StrategyCostOptimized, Candidates: []string{"google", "anthropic", "cohere", "openai"}},
		},
		{
			name:     "cost order override keeps unlisted providers last",
			cfg:      Config{CostOrder: []string{"openai", "replicate", "cohere"}},
			strategy: "cost_optimized",
			want:     Plan{Strategy: StrategyCostOptimized, Candidates: []string{"openai", "cohere", "google", "anthropic"}},
		},
		{
			name:     "performance",
			cfg:      DefaultConfig(),
			strategy: "performance",
			want:     Plan{Strategy: StrategyPerformance, Candidates: []string{"openai", "anthropic", "google", "cohere"}},
		},
		{
			name:     "specialized coding",
			cfg:      DefaultConfig(),
			strategy: "specialized",
			prompt:   "debug this code",
			want: Plan{Strategy: StrategySpecialized, TaskType: TaskCoding,
				Candidates: []string{"openai", "google", "anthropic", "cohere"}},
		},
		{
			name:     "specialized translation",
			cfg:      DefaultConfig(),
			strategy: "specialized",
			prompt:   "translate this",
			want: Plan{Strategy: StrategySpecialized, TaskType: TaskTranslation,
				Candidates: []string{"cohere", "google", "anthropic", "openai"}},
		},
		{
			name:     "failover deduplicates the chain",
			cfg:      DefaultConfig(),
			strategy: "failover",
			want:     Plan{Strategy: StrategyFailover, Candidates: []string{"openai", "anthropic", "google"}},
		},
		{
			name:     "unknown strategy uses cost optimized",
			cfg:      Config{DefaultStrategy: StrategyPerformance},
			strategy: "fastest",
			want:     Plan{Strategy: StrategyCostOptimized, Candidates: []string{"google", "anthropic", "cohere", "openai"}},
		},
		{
			name:     "empty strategy uses the default",
			cfg:      Config{DefaultStrategy: StrategyPerformance},
			strategy: "",
			want:     Plan{Strategy: StrategyPerformance, Candidates: []string{"openai", "anthropic", "google", "cohere"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.cfg, all, nil)
			assert.Equal(t, tt.want, r.Plan(tt.strategy, tt.prompt))
		})
	}
}

func TestPlan_OnlyRegisteredProviders(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"google", "cohere"}, nil)

	assert.Equal(t, []string{"google", "cohere"}, r.Plan("performance", "").Candidates)
	assert.Equal(t, []string{"google"}, r.Plan("failover", "").Candidates)
}

func TestPlan_SpecializedFallsBackToTags(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"anthropic", "cohere", "openai"}, map[string][]string{
		"cohere":    {"creative"},
		"anthropic": {"creative", "analysis"},
	})

	plan := r.Plan("specialized", "tell me a story")
	assert.Equal(t, TaskCreative, plan.TaskType)
	assert.Equal(t, []string{"anthropic", "cohere", "openai"}, plan.Candidates)

	r = newTestRouter(t, DefaultConfig(), []string{"cohere", "openai"}, nil)
	plan = r.Plan("specialized", "tell me a story")
	assert.Equal(t, []string{"cohere", "openai"}, plan.Candidates, "no specialist means plain cost order")
}

func TestRoute_LoadBalanced(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"anthropic", "google", "openai"}, nil)
	ctx := context.Background()

	var used []string
	for i := 0; i < 6; i++ {
		result, err := r.Route(ctx, "prompt "+string(rune('a'+i)), "load_balanced", Options{})
		require.NoError(t, err)
		assert.Equal(t, "load_balanced", result.Strategy)
		used = append(used, result.Provider)
	}

	assert.Equal(t, []string{"google", "anthropic", "openai", "google", "anthropic", "openai"}, used)
	assert.Equal(t, map[string]int{"google": 2, "anthropic": 2, "openai": 2}, r.GetStats().RequestCounts)
}

func TestRoute_DebugThisCodeGoesToCodingProvider(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"anthropic", "cohere", "google", "openai"}, nil)

	result, err := r.Route(context.Background(), "debug this code", "specialized", Options{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "specialized", result.Strategy)
	assert.Equal(t, TaskCoding, result.TaskType)
	assert.Equal(t, 1, r.fakes["openai"].Calls())
}

func TestRoute_CostCeiling(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"google", "openai"}, nil)
	r.tracker.Add(100.01)

	result, err := r.Route(context.Background(), "hi", "cost_optimized", Options{})

	require.Error(t, err)
	assert.True(t, services.IsCostCeilingError(err))
	assert.False(t, result.Success)
	for name, f := range r.fakes {
		assert.Zero(t, f.Calls(), name)
	}
	assert.Empty(t, r.GetStats().RequestCounts)
}

func TestRoute_AllFail(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"anthropic", "google", "openai"}, nil)
	for name, f := range r.fakes {
		f.WithError(providers.NewProviderError(name, providers.ErrorKindNetwork, "down", 0, nil))
	}

	result, err := r.Route(context.Background(), "hi", "performance", Options{})

	require.Error(t, err)
	assert.True(t, services.IsExhaustedError(err))
	assert.Len(t, result.Attempts, 3)
	for name, f := range r.fakes {
		assert.Equal(t, 1, f.Calls(), name)
		assert.Equal(t, 1, r.quota.Snapshot().Usage(name).Failed, name)
	}
}

func TestRoutePreset(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"google", "openai"}, nil)

	result, err := r.RoutePreset(context.Background(), "quick", "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "cost_optimized", result.Strategy)
	assert.Equal(t, 500, r.fakes["google"].LastConfig().MaxTokens)

	result, err = r.RoutePreset(context.Background(), "complex", "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, 3000, r.fakes["openai"].LastConfig().MaxTokens)

	_, err = r.RoutePreset(context.Background(), "nope", "hi", Options{})
	assert.True(t, services.IsValidationError(err))
}

func TestGetStats(t *testing.T) {
	r := newTestRouter(t, DefaultConfig(), []string{"google", "openai"}, nil)
	ctx := context.Background()

	_, err := r.Route(ctx, "hi", "cost_optimized", Options{})
	require.NoError(t, err)
	_, err = r.Route(ctx, "hi", "cost_optimized", Options{})
	require.NoError(t, err)

	stats := r.GetStats()
	assert.Equal(t, map[string]int{"google": 1}, stats.RequestCounts, "cache hits are not counted")
	assert.Equal(t, []string{"google", "openai"}, stats.Providers)
	assert.Len(t, stats.AvailableStrategies, 5)
	assert.Equal(t, uint64(1), stats.Cache.Hits)
	require.NotNil(t, stats.Costs)
	assert.Equal(t, 100.0, stats.Costs.MaxMonthlySpend)

	r.ResetStats()
	assert.Empty(t, r.GetStats().RequestCounts)
}

func TestGetStats_CoalescedRoutesCountOnce(t *testing.T) {
	logger := zap.NewNop()
	google := providertest.New("google").WithDelay(50 * time.Millisecond)
	registry := providers.NewRegistry()
	require.NoError(t, registry.RegisterProvider(google, providers.Descriptor{}))

	estimator := pricing.NewEstimator(nil, pricing.DefaultRate)
	q := quota.NewManager(context.Background(), &memLedger{}, nil, quota.DefaultSettings(), logger)
	tracker := budget.NewTracker(100, logger)
	inv := invoker.New(registry, q, estimator, tracker, cache.NewResponseCache(time.Minute),
		invoker.Config{Coalesce: true}, logger)
	r := NewRouter(DefaultConfig(), registry, estimator, inv, tracker, logger)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := r.Route(context.Background(), "same question", "cost_optimized", Options{})
			assert.NoError(t, err)
			assert.True(t, result.Success)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, google.Calls())
	assert.Equal(t, map[string]int{"google": 1}, r.GetStats().RequestCounts)
}
