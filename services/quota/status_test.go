package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"openai":    {Requests: 100, Tokens: 10000, Cost: 10},
		"anthropic": {Requests: 100, Tokens: 10000, Cost: 10},
		"google":    {Requests: 100, Tokens: 10000, Cost: 10},
	}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 96; i++ {
		m.RecordUsage(ctx, "google", 0, 0, true)
	}
	m.RecordUsage(ctx, "openai", 1000, 1, true)

	report := m.Status()

	assert.Equal(t, "2026-03-04", report.Date)
	require.Len(t, report.Providers, 3)

	google := report.Providers["google"]
	assert.False(t, google.Available)
	assert.True(t, google.Emergency)
	assert.Equal(t, 96, google.Absolute.Requests)
	assert.Equal(t, 10, google.HourlyBudget)

	assert.True(t, report.Providers["openai"].Available)
	assert.Equal(t, []string{"anthropic", "openai"}, report.Available)
	assert.Equal(t, "anthropic", report.BestProvider)
	require.Len(t, report.Alerts, 1)
	assert.Contains(t, report.Alerts[0], "google")

	assert.Equal(t, []string{
		"only 2 providers available, route carefully",
		"best provider: anthropic",
	}, report.Recommendations)
	assert.Equal(t, report.Alerts, m.Alerts())
}

func TestStatus_AllSaturated(t *testing.T) {
	m := newTestManager(t, map[string]Limits{"openai": {Requests: 1}}, nil, nil)
	m.RecordUsage(context.Background(), "openai", 0, 0, true)

	report := m.Status()
	assert.Empty(t, report.Available)
	assert.Empty(t, report.BestProvider)
	assert.Equal(t, []string{"all providers approaching limits, consider upgrading plans"}, report.Recommendations)
}

func TestStatus_PlentyAvailable(t *testing.T) {
	m := newTestManager(t, map[string]Limits{
		"a": {Requests: 10}, "b": {Requests: 10}, "c": {Requests: 10},
	}, nil, nil)

	report := m.Status()
	assert.Equal(t, []string{"best provider: a"}, report.Recommendations)
	assert.Empty(t, report.Alerts)
}
