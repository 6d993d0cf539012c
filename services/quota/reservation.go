package quota

import (
	"context"
	"sync"
)

// hold is the estimate kept by admitted requests that have not recorded yet
type hold struct {
	requests int
	tokens   int
	cost     float64
}

func (h hold) add(o hold) hold {
	return hold{requests: h.requests + o.requests, tokens: h.tokens + o.tokens, cost: h.cost + o.cost}
}

func (h hold) sub(o hold) hold {
	return hold{requests: h.requests - o.requests, tokens: h.tokens - o.tokens, cost: h.cost - o.cost}
}

// Reservation is an admitted request's estimate, held against the
// provider's limits until Record or Release.
type Reservation struct {
	m        *Manager
	provider string
	hold     hold
	held     bool
	once     sync.Once
}

// Reserve admits like CanMakeRequest and, when allowed, holds the estimate
// so concurrent admissions count it. A denied request gets a nil
// Reservation.
func (m *Manager) Reserve(provider string, estTokens int, estCost float64) (*Reservation, bool) {
	if estTokens < 0 {
		estTokens = 0
	}
	if estCost < 0 {
		estCost = 0
	}

	m.mu.Lock()
	snapshot := m.resetLocked()
	decision := m.admitLocked(provider, estTokens, estCost)
	r := &Reservation{
		m:        m,
		provider: provider,
		hold:     hold{requests: 1, tokens: estTokens, cost: estCost},
		held:     decision.allowed && decision.limited,
	}
	if r.held {
		m.inflight[provider] = m.inflight[provider].add(r.hold)
	}
	m.mu.Unlock()
	m.saveReset(snapshot)

	m.logAdmission(provider, decision)
	if !decision.allowed {
		return nil, false
	}
	return r, true
}

// Record drops the hold and records the actual usage in one step
func (r *Reservation) Record(ctx context.Context, tokens int, cost float64, success bool) {
	r.m.record(ctx, r.provider, tokens, cost, success, r.dropLocked)
}

// Release drops the hold without recording. It is a no-op after Record or
// a previous Release.
func (r *Reservation) Release() {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.dropLocked()
}

func (r *Reservation) dropLocked() {
	r.once.Do(func() {
		if !r.held {
			return
		}
		left := r.m.inflight[r.provider].sub(r.hold)
		if left.requests <= 0 {
			delete(r.m.inflight, r.provider)
			return
		}
		r.m.inflight[r.provider] = left
	})
}

// InFlight returns the number of outstanding reservations for provider
func (m *Manager) InFlight(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[provider].requests
}
