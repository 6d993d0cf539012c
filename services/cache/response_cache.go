package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// DefaultTTL is how long a completion is served from memory
const DefaultTTL = 10 * time.Minute

// Entry is a cached completion
type Entry struct {
	Response   string    `json:"response"`
	Tokens     int       `json:"tokens"`
	Provider   string    `json:"provider"`
	Cost       float64   `json:"cost"`
	RecordedAt time.Time `json:"recorded_at"`
}

// KeyOptions are the request options that change a completion.
// Callers normalize them (defaults applied) before building a key.
type KeyOptions struct {
	Strategy    string  `json:"strategy"`
	TaskType    string  `json:"task_type,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Model       string  `json:"model,omitempty"`
	MaxCost     float64 `json:"max_cost,omitempty"`
}

// Key returns the hex SHA-256 of the JSON encoding of prompt and options.
// Struct field order makes the encoding stable.
func Key(prompt string, opts KeyOptions) string {
	payload, _ := json.Marshal(struct {
		Prompt  string     `json:"prompt"`
		Options KeyOptions `json:"options"`
	}{prompt, opts})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	entry      Entry
	insertedAt time.Time
}

// ResponseCache is an in-memory TTL cache for completions. Expired entries
// are dropped when looked up; there is no size bound and no sweeper.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time

	hits    uint64
	misses  uint64
	expired uint64
}

// Option configures a ResponseCache
type Option func(*ResponseCache)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

// NewResponseCache creates a cache; ttl <= 0 uses DefaultTTL
func NewResponseCache(ttl time.Duration, opts ...Option) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry under key if present and not expired
func (c *ResponseCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return Entry{}, false
	}

	c.hits++
	return e.entry, true
}

// Set stores entry under key, restarting its TTL
func (c *ResponseCache) Set(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = now
	}
	c.entries[key] = &cacheEntry{entry: entry, insertedAt: now}
}

// Delete removes key
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// TTL returns the configured entry lifetime
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Stats represents cache statistics. Size counts expired entries not yet looked up.
type Stats struct {
	Size       int     `json:"size"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Expired    uint64  `json:"expired"`
	HitRate    float64 `json:"hit_rate"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// Stats returns cache statistics
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:       len(c.entries),
		Hits:       c.hits,
		Misses:     c.misses,
		Expired:    c.expired,
		TTLSeconds: c.ttl.Seconds(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
