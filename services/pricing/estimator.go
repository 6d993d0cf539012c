package pricing

import (
	"sort"
	"sync"
)

// DefaultRate applies to providers missing from the rate table (USD per 1K tokens)
const DefaultRate = 0.01

// DefaultRates is the built-in USD price per 1000 tokens
func DefaultRates() map[string]float64 {
	return map[string]float64{
		"openai":     0.03,
		"anthropic":  0.015,
		"google":     0.00025,
		"cohere":     0.02,
		"replicate":  0.05,
		"openrouter": 0, // free models
	}
}

// Estimator converts token counts to cost with a static rate table
type Estimator struct {
	mu          sync.RWMutex
	rates       map[string]float64
	defaultRate float64
}

// NewEstimator copies rates into a new estimator. A nil map uses DefaultRates.
func NewEstimator(rates map[string]float64, defaultRate float64) *Estimator {
	if rates == nil {
		rates = DefaultRates()
	}
	table := make(map[string]float64, len(rates))
	for name, rate := range rates {
		table[name] = rate
	}
	return &Estimator{rates: table, defaultRate: defaultRate}
}

// Rate returns the per-1K rate for a provider
func (e *Estimator) Rate(provider string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if rate, ok := e.rates[provider]; ok {
		return rate
	}
	return e.defaultRate
}

// Estimate returns rate[provider] * tokens / 1000
func (e *Estimator) Estimate(provider string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return e.Rate(provider) * float64(tokens) / 1000
}

// SetRate overrides the rate of one provider
func (e *Estimator) SetRate(provider string, rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates[provider] = rate
}

// Rates returns a copy of the rate table
func (e *Estimator) Rates() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]float64, len(e.rates))
	for name, rate := range e.rates {
		out[name] = rate
	}
	return out
}

// CheapestFirst orders providers by ascending rate, ties by name
func (e *Estimator) CheapestFirst(providers []string) []string {
	ordered := make([]string, len(providers))
	copy(ordered, providers)

	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := e.Rate(ordered[i]), e.Rate(ordered[j])
		if ri != rj {
			return ri < rj
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}
