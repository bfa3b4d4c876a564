package dial

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/throttle"
)

// Scheduler manages a set of concurrent worker goroutines that poll the
// persisted dial queue and execute due entries through the Dialer.
// Per-property leases keep a claimed entry exclusive across processes.
type Scheduler struct {
	queue        Store
	dialer       *Dialer
	concurrency  int
	pollInterval time.Duration
	leaseTTL     time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Throttle (optional).
	throttle *throttle.Manager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithConcurrency sets the number of concurrent dial worker goroutines.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPollInterval sets how often workers poll for due entries.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLeaseTTL sets how long a claimed entry's lease lasts before the
// janitor may reap it.
func WithLeaseTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// WithThrottle sets the dial throttle manager.
func WithThrottle(m *throttle.Manager) SchedulerOption {
	return func(s *Scheduler) { s.throttle = m }
}

// NewScheduler creates a dial scheduler.
func NewScheduler(queue Store, dialer *Dialer, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		queue:        queue,
		dialer:       dialer,
		concurrency:  4,
		pollInterval: 5 * time.Second,
		leaseTTL:     10 * time.Minute,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkerID returns the scheduler's unique worker identifier, used as
// the lease holder.
func (s *Scheduler) WorkerID() id.WorkerID { return s.workerID }

// Start launches the worker goroutines. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("dial scheduler starting",
		slog.String("worker_id", s.workerID.String()),
		slog.Int("concurrency", s.concurrency),
		slog.Duration("poll_interval", s.pollInterval),
	)

	for range s.concurrency {
		s.wg.Add(1)
		go s.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish, or
// for the context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("dial scheduler stopping", slog.String("worker_id", s.workerID.String()))
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("dial scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("dial scheduler shutdown timed out")
	}
	return nil
}

// ProcessDue claims and executes every currently due entry, returning
// how many were processed. The polling loop uses single-entry claims;
// this batch form also serves recovery sweeps and tests.
func (s *Scheduler) ProcessDue(ctx context.Context) (int, error) {
	processed := 0
	for {
		calls, err := s.queue.DequeueDueCalls(ctx, s.concurrency)
		if err != nil {
			return processed, err
		}
		if len(calls) == 0 {
			return processed, nil
		}
		for _, c := range calls {
			if s.handleCall(ctx, c) {
				processed++
			}
		}
	}
}

// dequeueLoop is run by each worker goroutine.
func (s *Scheduler) dequeueLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		calls, err := s.queue.DequeueDueCalls(context.Background(), 1)
		if err != nil {
			s.logger.Error("dequeue error", slog.String("error", err.Error()))
			s.sleep()
			continue
		}
		if len(calls) == 0 {
			s.sleep()
			continue
		}

		s.handleCall(context.Background(), calls[0])
	}
}

// handleCall guards one claimed entry with its lease and the throttle,
// then executes it. Returns true when the entry was dialed (or
// dropped); false when it was requeued untouched.
func (s *Scheduler) handleCall(ctx context.Context, c *Call) bool {
	acquired, err := s.queue.AcquireLease(ctx, c.LeaseKey(), s.workerID.String(), s.leaseTTL)
	if err != nil {
		s.logger.Error("lease acquire error",
			slog.String("key", c.LeaseKey()),
			slog.String("error", err.Error()),
		)
		s.requeue(ctx, c)
		return false
	}
	if !acquired {
		// Another worker is already on this property.
		s.requeue(ctx, c)
		return false
	}
	defer func() {
		if err := s.queue.ReleaseLease(ctx, c.LeaseKey(), s.workerID.String()); err != nil {
			s.logger.Warn("lease release error",
				slog.String("key", c.LeaseKey()),
				slog.String("error", err.Error()),
			)
		}
	}()

	if s.throttle != nil && !s.throttle.Acquire(c.ExecutionID.String()) {
		s.requeue(ctx, c)
		return false
	}
	defer func() {
		if s.throttle != nil {
			s.throttle.Release(c.ExecutionID.String())
		}
	}()

	if err := s.dialer.Execute(ctx, c); err != nil {
		s.logger.Error("call execution error",
			slog.String("execution_id", c.ExecutionID.String()),
			slog.String("property_id", c.PropertyID),
			slog.String("error", err.Error()),
		)
		s.requeue(ctx, c)
		return false
	}
	return true
}

// requeue returns an unprocessed entry to the queue with a short delay.
func (s *Scheduler) requeue(ctx context.Context, c *Call) {
	c.ScheduledAt = time.Now().UTC().Add(s.pollInterval)
	if err := s.queue.ScheduleCall(ctx, c); err != nil {
		s.logger.Error("requeue failed",
			slog.String("execution_id", c.ExecutionID.String()),
			slog.String("property_id", c.PropertyID),
			slog.Int("number", c.Number),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits one poll interval or until stop.
func (s *Scheduler) sleep() {
	select {
	case <-s.stopCh:
	case <-time.After(s.pollInterval):
	}
}
