package invoker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/services"
	"github.com/upb/llm-quota-router/services/cache"
	"github.com/upb/llm-quota-router/services/providers"
)

// Config holds invoker defaults
type Config struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// Coalesce shares one fallback run between identical concurrent requests
	Coalesce bool
}

// Invoker runs the fallback loop over an ordered candidate list
type Invoker struct {
	providers ProviderSource
	quota     QuotaGate
	estimator CostEstimator
	tracker   SpendTracker
	cache     *cache.ResponseCache
	recorder  AttemptRecorder
	metrics   Metrics
	config    Config
	group     singleflight.Group
	logger    *zap.Logger
}

// Option configures an Invoker
type Option func(*Invoker)

// WithAttemptRecorder sends every attempt to r
func WithAttemptRecorder(r AttemptRecorder) Option {
	return func(i *Invoker) {
		i.recorder = r
	}
}

// WithMetrics reports outcomes to m
func WithMetrics(m Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// New creates an Invoker
func New(
	source ProviderSource,
	quota QuotaGate,
	estimator CostEstimator,
	tracker SpendTracker,
	responses *cache.ResponseCache,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Invoker {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if responses == nil {
		responses = cache.NewResponseCache(cache.DefaultTTL)
	}

	inv := &Invoker{
		providers: source,
		quota:     quota,
		estimator: estimator,
		tracker:   tracker,
		cache:     responses,
		config:    config,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Cache returns the response cache
func (i *Invoker) Cache() *cache.ResponseCache {
	return i.cache
}

// Invoke tries req.Candidates in order until one succeeds. On exhaustion it
// returns a failed Result together with services.ErrAllProvidersExhausted.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}
	req = i.normalize(req)

	if !i.config.Coalesce {
		return i.invoke(ctx, req)
	}

	if err := ctx.Err(); err != nil {
		return i.cancelled(req, err), services.WrapInternal("route cancelled", err)
	}

	// The shared run ignores caller cancellation and is bounded by the
	// per-call timeouts. Each caller stops waiting when its own ctx is done.
	key := i.cacheKey(req) + "|" + strings.Join(req.Candidates, ",")
	ran := false
	ch := i.group.DoChan(key, func() (interface{}, error) {
		ran = true
		return i.invoke(context.WithoutCancel(ctx), req)
	})

	select {
	case res := <-ch:
		result, _ := res.Val.(*Result)
		if ran {
			return result, res.Err
		}
		i.logger.Debug("coalesced identical request", zap.String("request_id", req.RequestID))
		result = result.clone()
		if result != nil {
			result.RequestID = req.RequestID
			result.Coalesced = true
		}
		return result, res.Err
	case <-ctx.Done():
		i.logger.Debug("caller left a shared route", zap.String("request_id", req.RequestID))
		return i.cancelled(req, ctx.Err()), services.WrapInternal("route cancelled", ctx.Err())
	}
}

func (i *Invoker) cancelled(req Request, err error) *Result {
	return &Result{
		Provider:  "none",
		Strategy:  req.Strategy,
		TaskType:  req.TaskType,
		RequestID: req.RequestID,
		Error:     err.Error(),
	}
}

func (i *Invoker) normalize(req Request) Request {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = i.config.MaxTokens
	}
	if req.Temperature == nil {
		t := i.config.Temperature
		if t == 0 {
			t = DefaultTemperature
		}
		req.Temperature = &t
	}
	if req.Timeout <= 0 {
		req.Timeout = i.config.Timeout
	}
	req.Candidates = dedupe(req.Candidates)
	return req
}

func (i *Invoker) cacheKey(req Request) string {
	return cache.Key(req.Prompt, cache.KeyOptions{
		Strategy:    req.Strategy,
		TaskType:    req.TaskType,
		MaxTokens:   req.MaxTokens,
		Temperature: *req.Temperature,
		Model:       req.Model,
		MaxCost:     req.MaxCost,
	})
}

func (i *Invoker) invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	key := i.cacheKey(req)

	result := &Result{
		Strategy:  req.Strategy,
		TaskType:  req.TaskType,
		RequestID: req.RequestID,
	}

	// A cached completion skips admission, the provider and the ledger
	if entry, ok := i.cache.Get(key); ok {
		result.Success = true
		result.FromCache = true
		result.Response = entry.Response
		result.Provider = entry.Provider
		result.Tokens = entry.Tokens
		result.EstimatedCost = entry.Cost
		result.Attempts = []Attempt{{Provider: entry.Provider, Outcome: models.AttemptOutcomeCacheHit}}
		i.recordAttempt(req, entry.Provider, models.AttemptOutcomeCacheHit, entry.Tokens, 0, 0, nil)
		i.observeRoute(req.Strategy, true, true, time.Since(start))
		return result, nil
	}

	if i.tracker != nil && i.tracker.ExceedsCeiling() {
		i.logger.Warn("monthly spend ceiling exceeded, refusing request",
			zap.String("request_id", req.RequestID),
			zap.String("strategy", req.Strategy))
		result.Provider = "none"
		result.Error = "monthly cost limit exceeded"
		i.observeRoute(req.Strategy, false, false, time.Since(start))
		return result, services.ErrCostCeilingExceeded
	}

	for _, name := range req.Candidates {
		if err := ctx.Err(); err != nil {
			result.Provider = "none"
			result.Error = err.Error()
			i.observeRoute(req.Strategy, false, false, time.Since(start))
			return result, services.WrapInternal("route cancelled", err)
		}

		attempt, completion := i.try(ctx, req, name)
		result.Attempts = append(result.Attempts, attempt)
		if completion == nil {
			continue
		}

		tokens := completion.TokensUsed
		if tokens <= 0 {
			tokens = req.MaxTokens
		}
		cost := i.estimator.Estimate(name, tokens)

		result.Success = true
		result.Response = completion.Text
		result.Provider = name
		result.Model = completion.Model
		result.Tokens = tokens
		result.EstimatedCost = cost

		i.cache.Set(key, cache.Entry{
			Response: completion.Text,
			Tokens:   tokens,
			Provider: name,
			Cost:     cost,
		})

		i.logger.Info("route completed",
			zap.String("request_id", req.RequestID),
			zap.String("provider", name),
			zap.String("strategy", req.Strategy),
			zap.Int("tokens", tokens),
			zap.Float64("cost", cost),
			zap.Int("attempts", len(result.Attempts)))
		i.observeRoute(req.Strategy, true, false, time.Since(start))
		return result, nil
	}

	i.logger.Warn("all providers failed",
		zap.String("request_id", req.RequestID),
		zap.String("strategy", req.Strategy),
		zap.Strings("candidates", req.Candidates))

	result.Provider = "none"
	result.Error = services.ErrAllProvidersExhausted.Message
	i.observeRoute(req.Strategy, false, false, time.Since(start))
	err := services.NewDomainError(services.ErrorTypeAllProvidersExhausted, services.ErrAllProvidersExhausted.Message, nil).
		WithDetail("attempts", len(result.Attempts))
	return result, err
}

// try runs one candidate step. A nil completion means advance to the next candidate.
func (i *Invoker) try(ctx context.Context, req Request, name string) (Attempt, *providers.Completion) {
	provider, err := i.providers.GetProvider(name)
	if err != nil {
		i.logger.Debug("candidate not registered, skipping", zap.String("provider", name))
		return Attempt{Provider: name, Outcome: models.AttemptOutcomeSkipped, Error: "not configured"}, nil
	}

	estCost := i.estimator.Estimate(name, req.MaxTokens)

	if req.MaxCost > 0 && estCost > req.MaxCost {
		i.logger.Debug("candidate above max cost, skipping",
			zap.String("provider", name),
			zap.Float64("estimated_cost", estCost),
			zap.Float64("max_cost", req.MaxCost))
		i.recordAttempt(req, name, models.AttemptOutcomeSkipped, 0, 0, 0, errors.New("estimate above max cost"))
		return Attempt{Provider: name, Outcome: models.AttemptOutcomeSkipped, Error: "estimate above max cost"}, nil
	}

	reservation, ok := i.quota.Reserve(name, req.MaxTokens, estCost)
	if !ok {
		i.quota.RecordUsage(ctx, name, 0, 0, false)
		i.recordAttempt(req, name, models.AttemptOutcomeDenied, 0, 0, 0, services.ErrAdmissionDenied)
		return Attempt{
			Provider: name,
			Outcome:  models.AttemptOutcomeDenied,
			Error:    services.ErrAdmissionDenied.Message,
		}, nil
	}
	defer reservation.Release()

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	started := time.Now()
	completion, err := provider.GenerateCompletion(callCtx, req.Prompt, providers.CompletionConfig{
		MaxTokens:   req.MaxTokens,
		Temperature: *req.Temperature,
		Model:       req.Model,
	})
	latency := time.Since(started)

	if err == nil && completion == nil {
		err = providers.NewProviderError(name, providers.ErrorKindUnknown, "empty completion", 0, nil)
	}
	if err != nil {
		kind := providers.KindOf(err)
		i.logger.Warn("provider failed",
			zap.String("request_id", req.RequestID),
			zap.String("provider", name),
			zap.String("kind", string(kind)),
			zap.Duration("latency", latency),
			zap.Error(err))
		reservation.Record(ctx, 0, 0, false)
		i.recordAttempt(req, name, models.AttemptOutcomeFailed, 0, 0, latency, err)
		return Attempt{
			Provider:  name,
			Outcome:   models.AttemptOutcomeFailed,
			ErrorKind: string(kind),
			Error:     err.Error(),
			LatencyMs: latency.Milliseconds(),
		}, nil
	}

	tokens := completion.TokensUsed
	if tokens <= 0 {
		tokens = req.MaxTokens
	}
	cost := i.estimator.Estimate(name, tokens)

	reservation.Record(ctx, tokens, cost, true)
	if i.tracker != nil {
		i.tracker.Add(cost)
	}
	if i.metrics != nil {
		i.metrics.AddCost(name, cost)
	}
	i.recordAttempt(req, name, models.AttemptOutcomeSuccess, tokens, cost, latency, nil)

	return Attempt{
		Provider:  name,
		Outcome:   models.AttemptOutcomeSuccess,
		LatencyMs: latency.Milliseconds(),
	}, completion
}

func (i *Invoker) recordAttempt(req Request, provider string, outcome models.AttemptOutcome, tokens int, cost float64, latency time.Duration, err error) {
	if i.metrics != nil {
		i.metrics.ObserveAttempt(provider, outcome, latency)
	}
	if i.recorder == nil {
		return
	}

	attempt := models.NewRouteAttempt(req.RequestID, provider, req.Strategy, outcome)
	attempt.TaskType = req.TaskType
	attempt.Tokens = tokens
	attempt.Cost = cost
	attempt.LatencyMs = int(latency.Milliseconds())
	if err != nil {
		attempt.Error = err.Error()
		if outcome == models.AttemptOutcomeFailed {
			attempt.ErrorKind = string(providers.KindOf(err))
		}
	}
	i.recorder.RecordAttempt(attempt)
}

func (i *Invoker) observeRoute(strategy string, success, fromCache bool, latency time.Duration) {
	if i.metrics != nil {
		i.metrics.ObserveRoute(strategy, success, fromCache, latency)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
