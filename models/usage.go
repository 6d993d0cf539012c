package models

import "time"

// LedgerDateFormat is the UTC calendar day key of a ledger
const LedgerDateFormat = "2006-01-02"

// ProviderUsage holds one provider's counters for one day
type ProviderUsage struct {
	Requests   int     `json:"requests" db:"requests"`
	Tokens     int     `json:"tokens" db:"tokens"`
	Cost       float64 `json:"cost" db:"cost"`
	Successful int     `json:"successful" db:"successful"`
	Failed     int     `json:"failed" db:"failed"`
}

// UsageLedger is the per-day, per-provider usage document
type UsageLedger struct {
	Date      string                   `json:"date"`
	Providers map[string]ProviderUsage `json:"providers"`
}

// NewUsageLedger creates an empty ledger for the UTC day of t
func NewUsageLedger(t time.Time) *UsageLedger {
	return &UsageLedger{
		Date:      LedgerDay(t),
		Providers: make(map[string]ProviderUsage),
	}
}

// LedgerDay returns the ledger date key for t
func LedgerDay(t time.Time) string {
	return t.UTC().Format(LedgerDateFormat)
}

// Usage returns the counters of a provider, zero if absent
func (l *UsageLedger) Usage(provider string) ProviderUsage {
	if l == nil || l.Providers == nil {
		return ProviderUsage{}
	}
	return l.Providers[provider]
}

// Clone returns a deep copy
func (l *UsageLedger) Clone() *UsageLedger {
	if l == nil {
		return nil
	}
	out := &UsageLedger{
		Date:      l.Date,
		Providers: make(map[string]ProviderUsage, len(l.Providers)),
	}
	for name, usage := range l.Providers {
		out.Providers[name] = usage
	}
	return out
}

// Valid reports whether the ledger has a parseable date
func (l *UsageLedger) Valid() bool {
	if l == nil {
		return false
	}
	_, err := time.Parse(LedgerDateFormat, l.Date)
	return err == nil
}
