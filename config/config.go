package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger backends
const (
	LedgerBackendFile     = "file"
	LedgerBackendPostgres = "postgres"
	LedgerBackendRedis    = "redis"
)

// KnownProviders are the provider ids with built-in adapters, limits or rates
var KnownProviders = []string{"openai", "anthropic", "google", "cohere", "replicate", "openrouter"}

// KnownStrategies are the routing strategy names accepted by ROUTING_DEFAULT_STRATEGY
var KnownStrategies = []string{"cost_optimized", "performance", "load_balanced", "specialized", "failover"}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // nil when neither DATABASE_URL nor DB_HOST is set
	Redis         RedisConfig
	Ledger        LedgerConfig
	Auth          AuthConfig
	Providers     ProvidersConfig
	Quota         QuotaConfig
	Routing       RoutingConfig
	Pricing       PricingConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// RedisConfig holds the optional Redis connection used by the redis ledger backend
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	LedgerKey string
}

// LedgerConfig selects where the daily usage ledger is persisted
type LedgerConfig struct {
	Backend  string
	FilePath string
}

// AuthConfig holds the HMAC secret for admin bearer tokens. Empty disables admin endpoints.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// ProviderConfig holds one provider's connection settings
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI      ProviderConfig
	Anthropic   ProviderConfig
	Google      ProviderConfig
	Cohere      ProviderConfig
	OpenRouter  ProviderConfig
	CatalogFile string

	// Tags maps provider id to capability tags
	Tags map[string][]string
}

// ByName returns the provider configs keyed by provider id, skipping those without an API key
func (p *ProvidersConfig) ByName() map[string]ProviderConfig {
	all := map[string]ProviderConfig{
		"openai":     p.OpenAI,
		"anthropic":  p.Anthropic,
		"google":     p.Google,
		"cohere":     p.Cohere,
		"openrouter": p.OpenRouter,
	}
	out := make(map[string]ProviderConfig, len(all))
	for name, cfg := range all {
		if cfg.APIKey != "" {
			out[name] = cfg
		}
	}
	return out
}

// ProviderLimits are the raw daily limits of one provider. Zero means unlimited.
type ProviderLimits struct {
	Requests int     `yaml:"requests"`
	Tokens   int     `yaml:"tokens"`
	Cost     float64 `yaml:"cost"`
}

// QuotaConfig holds the daily admission settings
type QuotaConfig struct {
	SafetyMargin       float64
	EmergencyThreshold float64
	HourlyDistribution float64
	Limits             map[string]ProviderLimits
}

// RoutingConfig holds strategy and invocation settings
type RoutingConfig struct {
	DefaultStrategy   string
	PrimaryProvider   string
	FallbackProviders []string
	CostOrder         []string
	PerformanceOrder  []string
	Specializations   map[string]string
	MaxMonthlySpend   float64
	MaxTokens         int
	Temperature       float64
	ProviderTimeout   time.Duration
	CacheTTL          time.Duration
	CoalesceRequests  bool
}

// PricingConfig holds per-1K-token rate overrides
type PricingConfig struct {
	Rates       map[string]float64
	DefaultRate float64
}

// AuditConfig holds the route attempt audit worker settings
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	Workers    int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			LedgerKey: getEnv("REDIS_LEDGER_KEY", "router:usage-ledger"),
		},
		Ledger: LedgerConfig{
			Backend:  getEnv("LEDGER_BACKEND", LedgerBackendFile),
			FilePath: getEnv("LEDGER_FILE", "data/ai-usage.json"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", "llm-quota-router"),
		},
		Providers: ProvidersConfig{
			OpenAI:      loadProviderConfig("OPENAI", "https://api.openai.com/v1", "gpt-4"),
			Anthropic:   loadProviderConfig("ANTHROPIC", "https://api.anthropic.com/v1", "claude-3-sonnet-20240229"),
			Google:      loadProviderConfig("GOOGLE", "", "gemini-pro"),
			Cohere:      loadProviderConfig("COHERE", "https://api.cohere.com/v2", "command-r"),
			OpenRouter:  loadProviderConfig("OPENROUTER", "https://openrouter.ai/api/v1", "meta-llama/llama-3.1-8b-instruct:free"),
			CatalogFile: getEnv("PROVIDER_CATALOG_FILE", ""),
			Tags:        DefaultTags(),
		},
		Quota: QuotaConfig{
			SafetyMargin:       getEnvAsFloat("QUOTA_SAFETY_MARGIN", 0.8),
			EmergencyThreshold: getEnvAsFloat("EMERGENCY_THRESHOLD", 0.95),
			HourlyDistribution: getEnvAsFloat("HOURLY_DISTRIBUTION", 0.1),
			Limits:             loadLimits(),
		},
		Routing: RoutingConfig{
			DefaultStrategy:   getEnv("ROUTING_DEFAULT_STRATEGY", "cost_optimized"),
			PrimaryProvider:   getEnv("PRIMARY_AI_PROVIDER", "openai"),
			FallbackProviders: getEnvAsList("FALLBACK_PROVIDERS", []string{"anthropic", "google", "openai"}),
			CostOrder:         getEnvAsList("ROUTING_COST_ORDER", nil),
			PerformanceOrder:  getEnvAsList("ROUTING_PERFORMANCE_ORDER", []string{"openai", "anthropic", "google", "cohere"}),
			Specializations:   getEnvAsMap("ROUTING_SPECIALIZATIONS", DefaultSpecializations()),
			MaxMonthlySpend:   getEnvAsFloat("MAX_MONTHLY_SPEND", 100),
			MaxTokens:         getEnvAsInt("MAX_TOKENS", 1000),
			Temperature:       getEnvAsFloat("TEMPERATURE", 0.7),
			ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			CacheTTL:          getEnvAsSeconds("CACHE_TTL", 600*time.Second),
			CoalesceRequests:  getEnvAsBool("COALESCE_REQUESTS", true),
		},
		Pricing: PricingConfig{
			Rates:       make(map[string]float64),
			DefaultRate: getEnvAsFloat("DEFAULT_COST_PER_1K", 0.01),
		},
		Audit: AuditConfig{
			Enabled:    getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if cfg.Providers.CatalogFile != "" {
		catalog, err := LoadCatalog(cfg.Providers.CatalogFile)
		if err != nil {
			return nil, err
		}
		cfg.ApplyCatalog(catalog)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Quota.SafetyMargin <= 0 || c.Quota.SafetyMargin > 1 {
		return fmt.Errorf("quota safety margin must be in (0,1], got %v", c.Quota.SafetyMargin)
	}
	if c.Quota.EmergencyThreshold <= 0 || c.Quota.EmergencyThreshold > 1 {
		return fmt.Errorf("emergency threshold must be in (0,1], got %v", c.Quota.EmergencyThreshold)
	}
	if c.Quota.HourlyDistribution < 0 || c.Quota.HourlyDistribution > 1 {
		return fmt.Errorf("hourly distribution must be in [0,1], got %v", c.Quota.HourlyDistribution)
	}

	if !contains(KnownStrategies, c.Routing.DefaultStrategy) {
		return fmt.Errorf("unknown default strategy %q", c.Routing.DefaultStrategy)
	}
	if c.Routing.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Routing.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if c.Routing.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if c.Ledger.FilePath == "" {
			return fmt.Errorf("ledger file path is required for the file backend")
		}
	case LedgerBackendPostgres:
		if c.Database == nil {
			return fmt.Errorf("database configuration required for the postgres ledger: set DATABASE_URL or DB_HOST")
		}
	case LedgerBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis ledger")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// Provider validation (at least one provider API key required in production)
	if c.IsProduction() && len(c.Providers.ByName()) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultLimits are the built-in daily limits per provider
func DefaultLimits() map[string]ProviderLimits {
	return map[string]ProviderLimits{
		"openai":    {Requests: 3000, Tokens: 100000, Cost: 10},
		"anthropic": {Requests: 5000, Tokens: 200000, Cost: 15},
		"google":    {Requests: 10000, Tokens: 1000000, Cost: 5},
		"cohere":    {Requests: 1000, Tokens: 50000, Cost: 8},
		"replicate": {Requests: 100, Tokens: 10000, Cost: 5},
	}
}

// DefaultSpecializations maps task types to their designated provider
func DefaultSpecializations() map[string]string {
	return map[string]string{
		"coding":      "openai",
		"analysis":    "anthropic",
		"creative":    "google",
		"translation": "cohere",
		"general":     "openai",
	}
}

// DefaultTags are the built-in capability tags per provider
func DefaultTags() map[string][]string {
	return map[string][]string{
		"openai":     {"coding", "general"},
		"anthropic":  {"analysis", "coding", "general"},
		"google":     {"creative", "general"},
		"cohere":     {"translation", "general"},
		"replicate":  {"creative"},
		"openrouter": {"general"},
	}
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			InitSchema:       getEnvAsBool("DB_INIT_SCHEMA", true),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "router"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "router"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}
}

// loadProviderConfig reads <PREFIX>_API_KEY, _BASE_URL, _MODEL and _TIMEOUT
func loadProviderConfig(prefix, baseURL, model string) ProviderConfig {
	return ProviderConfig{
		APIKey:  getEnv(prefix+"_API_KEY", ""),
		BaseURL: getEnv(prefix+"_BASE_URL", baseURL),
		Model:   getEnv(prefix+"_MODEL", model),
		Timeout: getEnvAsDuration(prefix+"_TIMEOUT", 60*time.Second),
	}
}

// loadLimits reads <PROVIDER>_DAILY_REQUESTS, _DAILY_TOKENS and _DAILY_COST over the defaults
func loadLimits() map[string]ProviderLimits {
	limits := DefaultLimits()
	for _, name := range KnownProviders {
		prefix := strings.ToUpper(name)
		current, hasDefault := limits[name]

		requests := getEnvAsInt(prefix+"_DAILY_REQUESTS", current.Requests)
		tokens := getEnvAsInt(prefix+"_DAILY_TOKENS", current.Tokens)
		cost := getEnvAsFloat(prefix+"_DAILY_COST", current.Cost)

		if !hasDefault && requests == 0 && tokens == 0 && cost == 0 {
			continue
		}
		limits[name] = ProviderLimits{Requests: requests, Tokens: tokens, Cost: cost}
	}
	return limits
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds accepts a Go duration ("10m") or a bare number of seconds ("600")
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsMap parses "k1=v1,k2=v2" and overlays it on defaultValue
func getEnvAsMap(key string, defaultValue map[string]string) map[string]string {
	out := make(map[string]string, len(defaultValue))
	for k, v := range defaultValue {
		out[k] = v
	}
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
