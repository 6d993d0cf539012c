package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/config"
	"github.com/upb/llm-quota-router/internal/observability"
	"github.com/upb/llm-quota-router/middleware"
	"github.com/upb/llm-quota-router/repositories"
	"github.com/upb/llm-quota-router/repositories/filestore"
	"github.com/upb/llm-quota-router/repositories/postgres"
	"github.com/upb/llm-quota-router/repositories/redisstore"
	"github.com/upb/llm-quota-router/services/audit"
	"github.com/upb/llm-quota-router/services/budget"
	"github.com/upb/llm-quota-router/services/cache"
	"github.com/upb/llm-quota-router/services/invoker"
	"github.com/upb/llm-quota-router/services/pricing"
	"github.com/upb/llm-quota-router/services/providers"
	"github.com/upb/llm-quota-router/services/providers/anthropic"
	"github.com/upb/llm-quota-router/services/providers/cohere"
	"github.com/upb/llm-quota-router/services/providers/gemini"
	"github.com/upb/llm-quota-router/services/providers/openai"
	"github.com/upb/llm-quota-router/services/quota"
	"github.com/upb/llm-quota-router/services/routing"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled

	// Storage; DB and Redis are nil when not configured
	RepoFactory   *postgres.RepositoryFactory
	DB            *postgres.DB
	Redis         *redis.Client
	RedisLedger   *redisstore.LedgerStore
	LedgerStore   repositories.LedgerStore
	RouteAttempts repositories.RouteAttemptRepository

	// Routing core
	Providers *providers.Registry
	Estimator *pricing.Estimator
	Quota     *quota.Manager
	Costs     *budget.Tracker
	Cache     *cache.ResponseCache
	Audit     *audit.AuditService
	Invoker   *invoker.Invoker
	Router    *routing.Router

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithRegistry uses a prebuilt provider registry instead of building one from config
func WithRegistry(registry *providers.Registry) Option {
	return func(d *Dependencies) {
		d.Providers = registry
	}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initLedgerStore(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize ledger store: %w", err)
	}

	deps.Estimator = newEstimator(cfg)

	if err := deps.initProviders(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initRouting(ctx, cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Providers.ListProviders()),
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.Bool("database", deps.DB != nil))
	return deps, nil
}

// initDatabase opens PostgreSQL when configured; the router runs without it
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, route attempts will be logged only")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.RouteAttempts = factory.NewRepositories().RouteAttempts
	return nil
}

// initLedgerStore selects the usage ledger backend
func (d *Dependencies) initLedgerStore(cfg *config.Config) error {
	switch cfg.Ledger.Backend {
	case config.LedgerBackendPostgres:
		if d.RepoFactory == nil {
			return fmt.Errorf("postgres ledger requires a database")
		}
		d.LedgerStore = d.RepoFactory.NewRepositories().Ledger

	case config.LedgerBackendRedis:
		rdb, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		d.Redis = rdb
		d.RedisLedger = redisstore.NewLedgerStore(rdb, cfg.Redis.LedgerKey, d.Logger)
		d.LedgerStore = d.RedisLedger

	default:
		store, err := filestore.NewLedgerStore(cfg.Ledger.FilePath, d.Logger)
		if err != nil {
			return err
		}
		d.LedgerStore = store
	}

	d.Logger.Info("ledger store initialized", zap.String("backend", cfg.Ledger.Backend))
	return nil
}

// initProviders builds one adapter per provider that has an API key
func (d *Dependencies) initProviders(cfg *config.Config) error {
	if d.Providers == nil {
		configs := make(map[string]providers.ProviderConfig)
		descriptors := make(map[string]providers.Descriptor)
		for name, pc := range cfg.Providers.ByName() {
			configs[name] = providers.ProviderConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
				Timeout: pc.Timeout,
			}
			descriptors[name] = providers.Descriptor{
				Name:      name,
				Tags:      cfg.Providers.Tags[name],
				CostPer1K: d.Estimator.Rate(name),
				Model:     pc.Model,
			}
		}

		registry, err := providers.NewRegistryBuilder().
			WithProviderBuilder("openai", openai.Builder).
			WithProviderBuilder("openrouter", openai.Builder).
			WithProviderBuilder("anthropic", anthropic.Builder).
			WithProviderBuilder("cohere", cohere.Builder).
			WithProviderBuilder("google", gemini.Builder).
			Build(configs, descriptors)
		if err != nil {
			return err
		}
		d.Providers = registry
	}

	if d.Providers.GetProviderCount() == 0 {
		d.Logger.Warn("no LLM providers configured")
	}
	return nil
}

// initRouting wires quota, spend, cache, audit, invoker and router
func (d *Dependencies) initRouting(ctx context.Context, cfg *config.Config) {
	d.Quota = quota.NewManager(ctx, d.LedgerStore, quotaLimits(cfg), quota.Settings{
		SafetyMargin:       cfg.Quota.SafetyMargin,
		EmergencyThreshold: cfg.Quota.EmergencyThreshold,
		HourlyDistribution: cfg.Quota.HourlyDistribution,
	}, d.Logger)

	d.Costs = budget.NewTracker(cfg.Routing.MaxMonthlySpend, d.Logger)
	d.Cache = cache.NewResponseCache(cfg.Routing.CacheTTL)

	var opts []invoker.Option
	if cfg.Audit.Enabled {
		var writer audit.AttemptWriter
		if d.RouteAttempts != nil {
			writer = d.RouteAttempts
		}
		d.Audit = audit.NewAuditService(writer, d.Logger, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.Workers,
		})
		opts = append(opts, invoker.WithAttemptRecorder(d.Audit))
	}
	if d.Metrics != nil {
		opts = append(opts, invoker.WithMetrics(d.Metrics))
	}

	d.Invoker = invoker.New(d.Providers, d.Quota, d.Estimator, d.Costs, d.Cache, invoker.Config{
		MaxTokens:   cfg.Routing.MaxTokens,
		Temperature: cfg.Routing.Temperature,
		Timeout:     cfg.Routing.ProviderTimeout,
		Coalesce:    cfg.Routing.CoalesceRequests,
	}, d.Logger, opts...)

	strategy, ok := routing.ParseStrategy(cfg.Routing.DefaultStrategy)
	if !ok {
		strategy = routing.StrategyCostOptimized
	}
	d.Router = routing.NewRouter(routing.Config{
		DefaultStrategy:   strategy,
		PrimaryProvider:   cfg.Routing.PrimaryProvider,
		FallbackProviders: cfg.Routing.FallbackProviders,
		CostOrder:         cfg.Routing.CostOrder,
		PerformanceOrder:  cfg.Routing.PerformanceOrder,
		Specializations:   cfg.Routing.Specializations,
	}, d.Providers, d.Estimator, d.Invoker, d.Costs, d.Logger)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT_SECRET not set, admin endpoints disabled")
	}
	// An empty secret makes the validator reject every token
	validator := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// Start launches the background workers owned by the dependencies
func (d *Dependencies) Start() error {
	if d.Audit != nil {
		if err := d.Audit.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
	}
	return nil
}

// PublishQuotaMetrics copies the current usage percentages into the quota gauges
func (d *Dependencies) PublishQuotaMetrics() {
	if d.Metrics == nil {
		return
	}
	for name, status := range d.Quota.Status().Providers {
		d.Metrics.SetQuotaUsage(name, status.Usage.Requests, status.Usage.Tokens, status.Usage.Cost)
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil && d.Audit.GetStats().Started {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.Quota != nil {
		if err := d.Quota.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush usage ledger: %w", err))
		} else {
			d.Logger.Info("usage ledger flushed")
		}
	}

	errs = append(errs, d.closeStorage()...)

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func (d *Dependencies) closeStorage() []error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
		d.DB = nil
	}
	return errs
}

func newEstimator(cfg *config.Config) *pricing.Estimator {
	rates := pricing.DefaultRates()
	for name, rate := range cfg.Pricing.Rates {
		rates[name] = rate
	}
	defaultRate := cfg.Pricing.DefaultRate
	if defaultRate <= 0 {
		defaultRate = pricing.DefaultRate
	}
	return pricing.NewEstimator(rates, defaultRate)
}

func quotaLimits(cfg *config.Config) map[string]quota.Limits {
	limits := make(map[string]quota.Limits, len(cfg.Quota.Limits))
	for name, l := range cfg.Quota.Limits {
		limits[name] = quota.Limits{Requests: l.Requests, Tokens: l.Tokens, Cost: l.Cost}
	}
	return limits
}
