package quota

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
	"github.com/upb/llm-quota-router/repositories"
)

const (
	// AvailabilityPercent is the usage percentage at which a provider stops being "available"
	AvailabilityPercent = 80.0

	// WarningPercent triggers a usage warning after a record
	WarningPercent = 70.0

	saveTimeout = 5 * time.Second
)

// Limits are the raw daily limits of one provider. Zero means unlimited.
type Limits struct {
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Settings are the global admission parameters
type Settings struct {
	SafetyMargin       float64 `json:"safety_margin"`
	EmergencyThreshold float64 `json:"emergency_threshold"`
	HourlyDistribution float64 `json:"hourly_distribution"`
}

// DefaultSettings returns margin 0.8, emergency 0.95, hourly 0.1
func DefaultSettings() Settings {
	return Settings{
		SafetyMargin:       0.8,
		EmergencyThreshold: 0.95,
		HourlyDistribution: 0.1,
	}
}

// UsagePercent is usage against raw limits, 0..100+
type UsagePercent struct {
	Requests float64 `json:"requests"`
	Tokens   float64 `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Mean returns the average of the three percentages
func (u UsagePercent) Mean() float64 {
	return (u.Requests + u.Tokens + u.Cost) / 3
}

// Max returns the highest of the three percentages
func (u UsagePercent) Max() float64 {
	m := u.Requests
	if u.Tokens > m {
		m = u.Tokens
	}
	if u.Cost > m {
		m = u.Cost
	}
	return m
}

func (u UsagePercent) below(limit float64) bool {
	return u.Requests < limit && u.Tokens < limit && u.Cost < limit
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for the UTC day
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the daily usage ledger and makes admission decisions.
// All reads and writes of the ledger and the in-flight reservations go
// through mu.
type Manager struct {
	mu       sync.Mutex
	limits   map[string]Limits
	settings Settings
	ledger   *models.UsageLedger
	version  uint64
	inflight map[string]hold

	saver  *ledgerSaver
	now    func() time.Time
	logger *zap.Logger
}

// NewManager loads the ledger from store. A missing or unreadable ledger
// starts empty for today; a ledger from an earlier day is reset.
func NewManager(ctx context.Context, store repositories.LedgerStore, limits map[string]Limits, settings Settings, logger *zap.Logger, opts ...Option) *Manager {
	if settings.SafetyMargin <= 0 || settings.SafetyMargin > 1 {
		settings.SafetyMargin = DefaultSettings().SafetyMargin
	}
	if settings.EmergencyThreshold <= 0 || settings.EmergencyThreshold > 1 {
		settings.EmergencyThreshold = DefaultSettings().EmergencyThreshold
	}

	m := &Manager{
		limits:   make(map[string]Limits, len(limits)),
		inflight: make(map[string]hold),
		settings: settings,
		now:      time.Now,
		logger:   logger,
	}
	for name, l := range limits {
		m.limits[name] = l
	}
	for _, opt := range opts {
		opt(m)
	}
	m.saver = newLedgerSaver(store, logger)

	m.ledger = m.load(ctx, store)

	m.mu.Lock()
	snapshot := m.resetLocked()
	m.mu.Unlock()
	if snapshot != nil {
		m.saver.save(ctx, snapshot)
	}

	return m
}

func (m *Manager) load(ctx context.Context, store repositories.LedgerStore) *models.UsageLedger {
	today := m.now()
	if store == nil {
		return models.NewUsageLedger(today)
	}

	ledger, err := store.Load(ctx)
	switch {
	case errors.Is(err, repositories.ErrLedgerNotFound):
		m.logger.Info("no usage ledger found, starting empty", zap.String("date", models.LedgerDay(today)))
		return models.NewUsageLedger(today)
	case err != nil:
		m.logger.Warn("could not load usage ledger, reinitializing", zap.Error(err))
		return models.NewUsageLedger(today)
	}

	if ledger.Providers == nil {
		ledger.Providers = make(map[string]models.ProviderUsage)
	}
	return ledger
}

// Settings returns the admission parameters
func (m *Manager) Settings() Settings {
	return m.settings
}

// Limits returns a copy of the configured raw limits
func (m *Manager) Limits() map[string]Limits {
	out := make(map[string]Limits, len(m.limits))
	for name, l := range m.limits {
		out[name] = l
	}
	return out
}

// Providers returns the providers with configured limits, sorted
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.limits))
	for name := range m.limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanMakeRequest reports whether one more request of estTokens/estCost
// fits under every safe limit (raw limit × safety margin). Estimates held
// by outstanding reservations count as used.
func (m *Manager) CanMakeRequest(provider string, estTokens int, estCost float64) bool {
	m.mu.Lock()
	snapshot := m.resetLocked()
	decision := m.admitLocked(provider, estTokens, estCost)
	m.mu.Unlock()
	m.saveReset(snapshot)

	m.logAdmission(provider, decision)
	return decision.allowed
}

type admission struct {
	allowed bool
	limited bool
	usage   models.ProviderUsage
	limits  Limits

	requestsExceeded bool
	tokensExceeded   bool
	costExceeded     bool
}

func (m *Manager) admitLocked(provider string, estTokens int, estCost float64) admission {
	limits, ok := m.limits[provider]
	if !ok {
		return admission{allowed: true}
	}

	usage := m.ledger.Usage(provider)
	held := m.inflight[provider]
	margin := m.settings.SafetyMargin

	d := admission{limited: true, usage: usage, limits: limits}
	d.requestsExceeded = limits.Requests > 0 && float64(usage.Requests+held.requests+1) > float64(limits.Requests)*margin
	d.tokensExceeded = limits.Tokens > 0 && float64(usage.Tokens+held.tokens+estTokens) > float64(limits.Tokens)*margin
	d.costExceeded = limits.Cost > 0 && usage.Cost+held.cost+estCost > limits.Cost*margin
	d.allowed = !d.requestsExceeded && !d.tokensExceeded && !d.costExceeded
	return d
}

func (m *Manager) logAdmission(provider string, d admission) {
	if !d.limited {
		m.logger.Warn("no limits defined for provider, allowing request", zap.String("provider", provider))
		return
	}
	if d.allowed {
		return
	}

	pct := percentOf(d.usage, d.limits)
	m.logger.Warn("provider approaching limits, request denied",
		zap.String("provider", provider),
		zap.Float64("requests_pct", pct.Requests),
		zap.Float64("tokens_pct", pct.Tokens),
		zap.Float64("cost_pct", pct.Cost),
		zap.Bool("requests_exceeded", d.requestsExceeded),
		zap.Bool("tokens_exceeded", d.tokensExceeded),
		zap.Bool("cost_exceeded", d.costExceeded),
	)
}

// RecordUsage adds one request to the provider's counters and persists the
// ledger. It never fails: a persistence error is logged and the in-memory
// ledger keeps the update.
func (m *Manager) RecordUsage(ctx context.Context, provider string, tokens int, cost float64, success bool) {
	m.record(ctx, provider, tokens, cost, success, nil)
}

// record applies one request to the ledger. settle, when set, runs under the
// same lock so a reservation turns into recorded usage in one step.
func (m *Manager) record(ctx context.Context, provider string, tokens int, cost float64, success bool, settle func()) {
	if tokens < 0 {
		tokens = 0
	}
	if cost < 0 {
		cost = 0
	}

	m.mu.Lock()
	m.resetLocked()
	if settle != nil {
		settle()
	}
	usage := m.ledger.Providers[provider]
	usage.Requests++
	usage.Tokens += tokens
	usage.Cost += cost
	if success {
		usage.Successful++
	} else {
		usage.Failed++
	}
	m.ledger.Providers[provider] = usage
	limits, hasLimits := m.limits[provider]
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.saver.save(ctx, snapshot)

	if !hasLimits {
		return
	}

	pct := percentOf(usage, limits)
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.Float64("requests_pct", pct.Requests),
		zap.Float64("tokens_pct", pct.Tokens),
		zap.Float64("cost_pct", pct.Cost),
		zap.Float64("cost", usage.Cost),
	}
	switch {
	case pct.Max() >= m.settings.EmergencyThreshold*100:
		m.logger.Error("provider usage past emergency threshold", fields...)
	case pct.Max() > WarningPercent:
		m.logger.Warn("provider usage warning", fields...)
	}
}

// ResetDailyUsageIfNeeded starts an empty ledger when the UTC day changed.
// Calling it again on the same day is a no-op.
func (m *Manager) ResetDailyUsageIfNeeded() {
	m.mu.Lock()
	snapshot := m.resetLocked()
	m.mu.Unlock()
	m.saveReset(snapshot)
}

// ProviderUsagePercent returns usage against raw limits; zeros for
// providers without limits.
func (m *Manager) ProviderUsagePercent(provider string) UsagePercent {
	m.mu.Lock()
	snapshot := m.resetLocked()
	usage := m.ledger.Usage(provider)
	m.mu.Unlock()
	m.saveReset(snapshot)

	limits, ok := m.limits[provider]
	if !ok {
		return UsagePercent{}
	}
	return percentOf(usage, limits)
}

// AvailableProviders returns configured providers below 80% on all metrics, sorted
func (m *Manager) AvailableProviders() []string {
	percents := m.percents()

	var available []string
	for _, name := range m.Providers() {
		if percents[name].below(AvailabilityPercent) {
			available = append(available, name)
		}
	}
	return available
}

// BestProvider returns the available provider with the lowest mean usage.
// The second result is false when every provider is at or above 80%.
func (m *Manager) BestProvider() (string, bool) {
	percents := m.percents()

	best, bestMean, found := "", 0.0, false
	for _, name := range m.Providers() {
		pct := percents[name]
		if !pct.below(AvailabilityPercent) {
			continue
		}
		if mean := pct.Mean(); !found || mean < bestMean {
			best, bestMean, found = name, mean, true
		}
	}

	if !found {
		m.logger.Warn("all providers approaching daily limits")
	}
	return best, found
}

// Snapshot returns a copy of the current ledger
func (m *Manager) Snapshot() *models.UsageLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Clone()
}

// Flush writes the current ledger synchronously and returns the store error
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	return m.saver.saveErr(ctx, snapshot)
}

func (m *Manager) percents() map[string]UsagePercent {
	m.mu.Lock()
	snapshot := m.resetLocked()
	out := make(map[string]UsagePercent, len(m.limits))
	for name, limits := range m.limits {
		out[name] = percentOf(m.ledger.Usage(name), limits)
	}
	m.mu.Unlock()
	m.saveReset(snapshot)
	return out
}

// resetLocked replaces a stale ledger and returns the snapshot to persist, if any
func (m *Manager) resetLocked() *versionedLedger {
	today := models.LedgerDay(m.now())
	if m.ledger != nil && m.ledger.Date == today {
		return nil
	}

	previous := ""
	if m.ledger != nil {
		previous = m.ledger.Date
	}
	m.ledger = models.NewUsageLedger(m.now())
	m.logger.Info("resetting daily usage counters",
		zap.String("previous_date", previous),
		zap.String("date", today))
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() *versionedLedger {
	m.version++
	return &versionedLedger{version: m.version, ledger: m.ledger.Clone()}
}

func (m *Manager) saveReset(snapshot *versionedLedger) {
	if snapshot != nil {
		m.saver.save(context.Background(), snapshot)
	}
}

func percentOf(usage models.ProviderUsage, limits Limits) UsagePercent {
	var pct UsagePercent
	if limits.Requests > 0 {
		pct.Requests = float64(usage.Requests) / float64(limits.Requests) * 100
	}
	if limits.Tokens > 0 {
		pct.Tokens = float64(usage.Tokens) / float64(limits.Tokens) * 100
	}
	if limits.Cost > 0 {
		pct.Cost = usage.Cost / limits.Cost * 100
	}
	return pct
}
