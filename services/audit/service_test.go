package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
)

// MockAttemptWriter is a mock implementation of AttemptWriter
type MockAttemptWriter struct {
	mock.Mock
	mu       sync.Mutex
	attempts []*models.RouteAttempt
}

func (m *MockAttemptWriter) Create(ctx context.Context, attempt *models.RouteAttempt) error {
	args := m.Called(ctx, attempt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if args.Error(0) == nil {
		m.attempts = append(m.attempts, attempt)
	}
	return args.Error(0)
}

func (m *MockAttemptWriter) Stored() []*models.RouteAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RouteAttempt(nil), m.attempts...)
}

func TestAuditService_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	service := NewAuditService(new(MockAttemptWriter), zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start(), "cannot start twice")

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.Error(t, service.Stop(time.Second), "cannot stop twice")
}

func TestAuditService_DefaultConfig(t *testing.T) {
	service := NewAuditService(nil, zap.NewNop(), Config{})
	stats := service.GetStats()
	assert.Equal(t, DefaultConfig().BufferSize, stats.BufferSize)
	assert.Equal(t, DefaultConfig().WorkerCount, stats.WorkerCount)
}

func TestAuditService_RecordAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	writer := new(MockAttemptWriter)
	writer.On("Create", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(writer, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	attempt := models.NewRouteAttempt("req-1", "google", "cost_optimized", models.AttemptOutcomeSuccess)
	attempt.Tokens = 120
	service.RecordAttempt(attempt)
	service.RecordAttempt(models.NewRouteAttempt("req-1", "openai", "cost_optimized", models.AttemptOutcomeFailed))
	service.RecordAttempt(nil)

	// Stop drains the buffer before returning
	require.NoError(t, service.Stop(5*time.Second))

	stored := writer.Stored()
	require.Len(t, stored, 2)
	assert.ElementsMatch(t, []string{"google", "openai"}, []string{stored[0].Provider, stored[1].Provider})

	stats := service.GetStats()
	assert.Equal(t, uint64(2), stats.Written)
	assert.Zero(t, stats.Dropped)
	writer.AssertNumberOfCalls(t, "Create", 2)
}

func TestAuditService_WriterErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	writer := new(MockAttemptWriter)
	writer.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewAuditService(writer, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	service.RecordAttempt(models.NewRouteAttempt("req-2", "google", "performance", models.AttemptOutcomeSuccess))
	require.NoError(t, service.Stop(5*time.Second))

	stats := service.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Written)
}

func TestAuditService_DropsWhenNotRunning(t *testing.T) {
	writer := new(MockAttemptWriter)
	service := NewAuditService(writer, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})

	service.RecordAttempt(models.NewRouteAttempt("req-3", "google", "performance", models.AttemptOutcomeSuccess))
	assert.Equal(t, uint64(1), service.GetStats().Dropped)
	writer.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuditService_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	writer := new(MockAttemptWriter)
	writer.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)

	service := NewAuditService(writer, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())

	for i := 0; i < 10; i++ {
		service.RecordAttempt(models.NewRouteAttempt("req-4", "google", "performance", models.AttemptOutcomeSuccess))
	}
	close(release)
	require.NoError(t, service.Stop(5*time.Second))

	stats := service.GetStats()
	assert.Positive(t, stats.Dropped)
	assert.Equal(t, uint64(10), stats.Dropped+stats.Written)
}

func TestAuditService_LogsWithoutWriter(t *testing.T) {
	defer goleak.VerifyNone(t)

	service := NewAuditService(nil, zap.NewNop(), Config{BufferSize: 4, WorkerCount: 1})
	require.NoError(t, service.Start())

	service.RecordAttempt(models.NewRouteAttempt("req-5", "cohere", "specialized", models.AttemptOutcomeDenied))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Equal(t, uint64(1), service.GetStats().Written)
}
