package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BudgetPeriod represents the time period for cost tracking
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
)

// Totals is a snapshot of the running spend
type Totals struct {
	Daily           float64   `json:"daily"`
	Monthly         float64   `json:"monthly"`
	MaxMonthlySpend float64   `json:"max_monthly_spend"`
	DayKey          string    `json:"day"`
	MonthKey        string    `json:"month"`
	LastReset       time.Time `json:"last_reset"`
}

// Tracker holds process-lifetime daily and monthly spend totals.
// It is reset on calendar boundaries by StartResetWorker or an admin call,
// never by the routing path.
type Tracker struct {
	mu              sync.Mutex
	daily           float64
	monthly         float64
	maxMonthlySpend float64
	dayKey          string
	monthKey        string
	lastReset       time.Time

	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker with the given monthly ceiling. A ceiling <= 0 disables it.
func NewTracker(maxMonthlySpend float64, logger *zap.Logger) *Tracker {
	return NewTrackerWithClock(maxMonthlySpend, logger, time.Now)
}

// NewTrackerWithClock is NewTracker with an explicit time source
func NewTrackerWithClock(maxMonthlySpend float64, logger *zap.Logger, now func() time.Time) *Tracker {
	t := &Tracker{
		maxMonthlySpend: maxMonthlySpend,
		now:             now,
		logger:          logger,
	}
	current := now().UTC()
	t.dayKey = getPeriodKey(current, PeriodDaily)
	t.monthKey = getPeriodKey(current, PeriodMonthly)
	t.lastReset = current
	return t
}

// Add records cost against both periods. Negative costs are ignored.
func (t *Tracker) Add(cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.daily += cost
	t.monthly += cost
}

// ExceedsCeiling reports whether monthly spend is strictly above the ceiling
func (t *Tracker) ExceedsCeiling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxMonthlySpend > 0 && t.monthly > t.maxMonthlySpend
}

// Totals returns the current spend
func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Totals{
		Daily:           t.daily,
		Monthly:         t.monthly,
		MaxMonthlySpend: t.maxMonthlySpend,
		DayKey:          t.dayKey,
		MonthKey:        t.monthKey,
		LastReset:       t.lastReset,
	}
}

// ResetDaily zeroes the daily total
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(PeriodDaily)
}

// ResetMonthly zeroes both totals
func (t *Tracker) ResetMonthly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(PeriodMonthly)
}

// Reset zeroes the totals of period
func (t *Tracker) Reset(period BudgetPeriod) error {
	switch period {
	case PeriodDaily:
		t.ResetDaily()
	case PeriodMonthly:
		t.ResetMonthly()
	default:
		return fmt.Errorf("unknown budget period %q", period)
	}
	return nil
}

// RollOver resets the periods whose calendar key changed since the last
// check. It returns the periods that were reset.
func (t *Tracker) RollOver() []BudgetPeriod {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.now().UTC()
	var reset []BudgetPeriod

	if key := getPeriodKey(current, PeriodMonthly); key != t.monthKey {
		t.resetLocked(PeriodMonthly)
		return append(reset, PeriodMonthly, PeriodDaily)
	}
	if key := getPeriodKey(current, PeriodDaily); key != t.dayKey {
		t.resetLocked(PeriodDaily)
		reset = append(reset, PeriodDaily)
	}
	return reset
}

func (t *Tracker) resetLocked(period BudgetPeriod) {
	current := t.now().UTC()

	t.logger.Info("resetting cost tracker",
		zap.String("period", string(period)),
		zap.Float64("daily", t.daily),
		zap.Float64("monthly", t.monthly))

	t.daily = 0
	t.dayKey = getPeriodKey(current, PeriodDaily)
	if period == PeriodMonthly {
		t.monthly = 0
		t.monthKey = getPeriodKey(current, PeriodMonthly)
	}
	t.lastReset = current
}

// StartResetWorker checks for calendar rollover every interval until ctx is done
func (t *Tracker) StartResetWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.RollOver()
		case <-ctx.Done():
			return
		}
	}
}

// getPeriodKey returns a unique key for a time period
func getPeriodKey(now time.Time, period BudgetPeriod) string {
	switch period {
	case PeriodMonthly:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02")
	}
}
