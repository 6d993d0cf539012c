package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/services"
	"github.com/upb/llm-quota-router/services/budget"
	"github.com/upb/llm-quota-router/services/cache"
	"github.com/upb/llm-quota-router/services/invoker"
	"github.com/upb/llm-quota-router/services/providers"
)

// ProviderDirectory is the read side of the provider registry
type ProviderDirectory interface {
	Has(name string) bool
	ListProviders() []string
	Describe(name string) (providers.Descriptor, error)
}

// CostOrderer sorts providers by price
type CostOrderer interface {
	CheapestFirst(providers []string) []string
}

// Invoker runs the fallback loop over a candidate list
type Invoker interface {
	Invoke(ctx context.Context, req invoker.Request) (*invoker.Result, error)
	Cache() *cache.ResponseCache
}

// SpendReporter exposes the cost totals for stats
type SpendReporter interface {
	Totals() budget.Totals
}

// Config holds the router settings
type Config struct {
	// DefaultStrategy is used when a request names none or an unknown one
	DefaultStrategy Strategy

	PrimaryProvider   string
	FallbackProviders []string

	// CostOrder overrides the rate-derived order for StrategyCostOptimized
	CostOrder []string

	// PerformanceOrder overrides DefaultPerformanceOrder
	PerformanceOrder []string

	// Specializations maps task type to designated provider
	Specializations map[string]string
}

// DefaultConfig returns the built-in routing settings
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:   StrategyCostOptimized,
		PrimaryProvider:   "openai",
		FallbackProviders: []string{"anthropic", "google", "openai"},
		PerformanceOrder:  DefaultPerformanceOrder(),
		Specializations:   DefaultSpecializations(),
	}
}

// Options are the per-request generation settings
type Options struct {
	RequestID   string
	MaxTokens   int
	Temperature *float64
	Model       string
	MaxCost     float64
	Timeout     time.Duration
}

// Preset is a named strategy and token budget
type Preset struct {
	Strategy  Strategy `json:"strategy"`
	MaxTokens int      `json:"max_tokens"`
}

// Presets are the convenience routes
var Presets = map[string]Preset{
	"quick":    {Strategy: StrategyCostOptimized, MaxTokens: 500},
	"complex":  {Strategy: StrategyPerformance, MaxTokens: 3000},
	"creative": {Strategy: StrategySpecialized, MaxTokens: 1500},
	"analysis": {Strategy: StrategySpecialized, MaxTokens: 2000},
}

// Stats is a snapshot of router activity
type Stats struct {
	RequestCounts       map[string]int `json:"request_counts"`
	AvailableStrategies []Strategy     `json:"available_strategies"`
	Providers           []string       `json:"providers"`
	Cache               cache.Stats    `json:"cache"`
	Costs               *budget.Totals `json:"costs,omitempty"`
}

// Router turns a strategy into a candidate list and drives the invoker
type Router struct {
	config    Config
	providers ProviderDirectory
	estimator CostOrderer
	invoker   Invoker
	spend     SpendReporter
	logger    *zap.Logger

	mu            sync.Mutex
	requestCounts map[string]int
}

// NewRouter creates a router. spend may be nil.
func NewRouter(config Config, directory ProviderDirectory, estimator CostOrderer, inv Invoker, spend SpendReporter, logger *zap.Logger) *Router {
	if _, ok := ParseStrategy(string(config.DefaultStrategy)); !ok {
		config.DefaultStrategy = StrategyCostOptimized
	}
	if config.Specializations == nil {
		config.Specializations = DefaultSpecializations()
	}
	return &Router{
		config:        config,
		providers:     directory,
		estimator:     estimator,
		invoker:       inv,
		spend:         spend,
		logger:        logger,
		requestCounts: make(map[string]int),
	}
}

// Route sends prompt through the named strategy. Unknown strategy names
// fall back to cost_optimized.
func (r *Router) Route(ctx context.Context, prompt string, strategy string, opts Options) (*invoker.Result, error) {
	plan := r.Plan(strategy, prompt)

	r.logger.Debug("routing request",
		zap.String("request_id", opts.RequestID),
		zap.String("strategy", string(plan.Strategy)),
		zap.String("task_type", plan.TaskType),
		zap.Strings("candidates", plan.Candidates))

	result, err := r.invoker.Invoke(ctx, invoker.Request{
		RequestID:   opts.RequestID,
		Prompt:      prompt,
		Candidates:  plan.Candidates,
		Strategy:    string(plan.Strategy),
		TaskType:    plan.TaskType,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Model:       opts.Model,
		MaxCost:     opts.MaxCost,
		Timeout:     opts.Timeout,
	})
	// Cached and coalesced answers did not call the provider
	if result != nil && result.Success && !result.FromCache && !result.Coalesced {
		r.trackRequest(result.Provider)
	}
	return result, err
}

// RoutePreset routes with a named preset's strategy and token budget
func (r *Router) RoutePreset(ctx context.Context, preset string, prompt string, opts Options) (*invoker.Result, error) {
	p, ok := Presets[preset]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown preset", nil).
			WithDetail("preset", preset)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = p.MaxTokens
	}
	return r.Route(ctx, prompt, string(p.Strategy), opts)
}

// Plan resolves a strategy name to its ordered candidates
func (r *Router) Plan(strategy string, prompt string) Plan {
	s, ok := ParseStrategy(strategy)
	if !ok {
		if strategy != "" {
			r.logger.Warn("unknown routing strategy, using cost_optimized", zap.String("strategy", strategy))
			s = StrategyCostOptimized
		} else {
			s = r.config.DefaultStrategy
		}
	}

	switch s {
	case StrategyPerformance:
		return r.planPerformance()
	case StrategyLoadBalanced:
		return r.planLoadBalanced()
	case StrategySpecialized:
		return r.planSpecialized(prompt)
	case StrategyFailover:
		return r.planFailover()
	default:
		return r.planCostOptimized()
	}
}

func (r *Router) trackRequest(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCounts[provider]++
}

// GetStats returns routing statistics
func (r *Router) GetStats() Stats {
	r.mu.Lock()
	counts := make(map[string]int, len(r.requestCounts))
	for name, n := range r.requestCounts {
		counts[name] = n
	}
	r.mu.Unlock()

	names := r.providers.ListProviders()
	sort.Strings(names)

	stats := Stats{
		RequestCounts:       counts,
		AvailableStrategies: Strategies(),
		Providers:           names,
		Cache:               r.invoker.Cache().Stats(),
	}
	if r.spend != nil {
		totals := r.spend.Totals()
		stats.Costs = &totals
	}
	return stats
}

// ResetStats clears the per-provider request counters
func (r *Router) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCounts = make(map[string]int)
}

// DefaultStrategy returns the strategy used for requests that name none
func (r *Router) DefaultStrategy() Strategy {
	return r.config.DefaultStrategy
}
