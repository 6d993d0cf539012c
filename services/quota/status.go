package quota

import (
	"fmt"

	"github.com/upb/llm-quota-router/models"
)

// ProviderStatus is one provider's row of the daily report
type ProviderStatus struct {
	Usage        UsagePercent         `json:"usage"`
	Absolute     models.ProviderUsage `json:"absolute"`
	Limits       Limits               `json:"limits"`
	HourlyBudget int                  `json:"hourly_request_budget"`
	Available    bool                 `json:"available"`
	Emergency    bool                 `json:"emergency"`
}

// StatusReport is the daily quota report
type StatusReport struct {
	Date            string                    `json:"date"`
	Settings        Settings                  `json:"settings"`
	Providers       map[string]ProviderStatus `json:"providers"`
	Available       []string                  `json:"available"`
	BestProvider    string                    `json:"best_provider,omitempty"`
	Alerts          []string                  `json:"alerts"`
	Recommendations []string                  `json:"recommendations"`
}

// Status builds the report for every provider with configured limits.
// HourlyBudget is informational; admission only enforces the daily limits.
func (m *Manager) Status() StatusReport {
	ledger := m.snapshotForReport()

	report := StatusReport{
		Date:            ledger.Date,
		Settings:        m.settings,
		Providers:       make(map[string]ProviderStatus, len(m.limits)),
		Available:       []string{},
		Alerts:          []string{},
		Recommendations: []string{},
	}

	emergencyPct := m.settings.EmergencyThreshold * 100
	bestMean := 0.0
	for _, name := range m.Providers() {
		limits := m.limits[name]
		usage := ledger.Usage(name)
		pct := percentOf(usage, limits)

		status := ProviderStatus{
			Usage:        pct,
			Absolute:     usage,
			Limits:       limits,
			HourlyBudget: int(float64(limits.Requests) * m.settings.HourlyDistribution),
			Available:    pct.below(AvailabilityPercent),
			Emergency:    pct.Max() >= emergencyPct,
		}
		report.Providers[name] = status

		if status.Emergency {
			report.Alerts = append(report.Alerts,
				fmt.Sprintf("%s at %.1f%% of its daily limit", name, pct.Max()))
		}
		if status.Available {
			report.Available = append(report.Available, name)
			if report.BestProvider == "" || pct.Mean() < bestMean {
				report.BestProvider, bestMean = name, pct.Mean()
			}
		}
	}

	switch n := len(report.Available); {
	case n == 0:
		report.Recommendations = append(report.Recommendations,
			"all providers approaching limits, consider upgrading plans")
	case n < 3:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("only %d providers available, route carefully", n))
	}
	if report.BestProvider != "" {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("best provider: %s", report.BestProvider))
	}

	return report
}

// Alerts lists providers past the emergency threshold
func (m *Manager) Alerts() []string {
	return m.Status().Alerts
}

func (m *Manager) snapshotForReport() *models.UsageLedger {
	m.ResetDailyUsageIfNeeded()
	return m.Snapshot()
}
