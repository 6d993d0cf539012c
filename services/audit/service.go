package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-quota-router/models"
)

// AttemptWriter persists route attempts
type AttemptWriter interface {
	Create(ctx context.Context, attempt *models.RouteAttempt) error
}

// AuditService writes route attempts in the background
type AuditService struct {
	writer      AttemptWriter
	logger      *zap.Logger
	eventChan   chan *models.RouteAttempt
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the attempt buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService. A nil writer logs attempts instead of storing them.
func NewAuditService(writer AttemptWriter, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &AuditService{
		writer:      writer,
		logger:      logger,
		eventChan:   make(chan *models.RouteAttempt, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Bool("persistent", s.writer != nil))

	return nil
}

// Stop drains pending attempts and waits for the workers up to timeout
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_attempts", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully",
			zap.Uint64("written", s.written.Load()),
			zap.Uint64("dropped", s.dropped.Load()))
		return nil
	case <-timer.C:
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// RecordAttempt queues an attempt without blocking. It is dropped when the
// buffer is full or the service is not running.
func (s *AuditService) RecordAttempt(attempt *models.RouteAttempt) {
	if attempt == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		s.dropped.Add(1)
		return
	}

	select {
	case s.eventChan <- attempt:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit channel full, dropping attempt",
			zap.String("request_id", attempt.RequestID),
			zap.String("provider", attempt.Provider))
	}
}

// worker processes attempts from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for attempt := range s.eventChan {
		if err := s.processAttempt(attempt); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to store route attempt",
				zap.Int("worker_id", id),
				zap.String("request_id", attempt.RequestID),
				zap.String("provider", attempt.Provider),
				zap.Error(err))
			continue
		}
		s.written.Add(1)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processAttempt(attempt *models.RouteAttempt) error {
	if s.writer == nil {
		s.logger.Info("route attempt",
			zap.String("request_id", attempt.RequestID),
			zap.String("provider", attempt.Provider),
			zap.String("strategy", attempt.Strategy),
			zap.String("outcome", string(attempt.Outcome)),
			zap.String("error_kind", attempt.ErrorKind),
			zap.Int("tokens", attempt.Tokens),
			zap.Float64("cost", attempt.Cost),
			zap.Int("latency_ms", attempt.LatencyMs))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.writer.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to insert route attempt: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:      s.bufferSize,
		PendingAttempts: len(s.eventChan),
		WorkerCount:     s.workerCount,
		Started:         s.started && !s.stopped,
		Written:         s.written.Load(),
		Dropped:         s.dropped.Load(),
		Failed:          s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize      int    `json:"buffer_size"`
	PendingAttempts int    `json:"pending_attempts"`
	WorkerCount     int    `json:"worker_count"`
	Started         bool   `json:"started"`
	Written         uint64 `json:"written"`
	Dropped         uint64 `json:"dropped"`
	Failed          uint64 `json:"failed"`
}
