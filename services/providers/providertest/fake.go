// Package providertest provides a scriptable Provider for tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-quota-router/services/providers"
)

// Fake is a Provider whose replies are scripted by the test
type Fake struct {
	name string

	mu     sync.Mutex
	text   string
	tokens int
	err    error
	delay  time.Duration
	calls  int
	last   providers.CompletionConfig
}

// New returns a fake that answers "response from <name>" with 100 tokens
func New(name string) *Fake {
	return &Fake{
		name:   name,
		text:   "response from " + name,
		tokens: 100,
	}
}

// Failing returns a fake that always fails with the given kind
func Failing(name string, kind providers.ErrorKind) *Fake {
	f := New(name)
	f.err = providers.NewProviderError(name, kind, "scripted failure", 0, nil)
	return f
}

// WithReply sets the reply text and reported token count
func (f *Fake) WithReply(text string, tokens int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.tokens = tokens
	return f
}

// WithError makes every call fail with err
func (f *Fake) WithError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// WithDelay makes every call wait for d or until ctx is done
func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

func (f *Fake) Name() string {
	return f.name
}

func (f *Fake) GenerateCompletion(ctx context.Context, prompt string, cfg providers.CompletionConfig) (*providers.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.last = cfg
	delay, text, tokens, err := f.delay, f.text, f.tokens, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, providers.NewProviderError(f.name, providers.ErrorKindTimeout, "deadline exceeded", 0, ctx.Err())
		}
	}

	if err != nil {
		return nil, err
	}

	return &providers.Completion{Text: text, TokensUsed: tokens, Model: cfg.Model}, nil
}

// Calls returns how many times GenerateCompletion ran
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastConfig returns the config of the most recent call
func (f *Fake) LastConfig() providers.CompletionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
