package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"hookq/internal/metrics"
	"hookq/internal/models"
	"hookq/internal/repository"

	"go.uber.org/zap"
)

// ErrUnknownJobType is the permanent failure recorded when a job's type
// has no registered handler. A configuration error, never a silent drop.
var ErrUnknownJobType = errors.New("no handler registered for job type")

// maxStoredErrorLen bounds the error text written to job and DLQ rows.
// Full detail still goes to the log.
const maxStoredErrorLen = 1024

// Idle polling bounds: a worker with nothing to do backs off between
// dequeue attempts instead of busy-spinning.
const (
	idleWaitMin = 250 * time.Millisecond
	idleWaitMax = 2 * time.Second
)

// Handler processes one job. A nil return acknowledges the job; an error
// wrapped with models.Permanent dead-letters it immediately; any other
// error is retried with backoff.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error { return f(ctx, job) }

// WorkerService runs a fixed-size pool of executors over the priority
// job store and applies the retry, timeout and dead-letter policy.
type WorkerService struct {
	repo    repository.JobRepository
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	handlers map[models.JobType]Handler
	timeouts map[models.JobType]time.Duration

	workerCount    int
	leaseDuration  time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	defaultTimeout time.Duration

	jitter func(max time.Duration) time.Duration
}

// WorkerConfig carries the pool's tunables.
type WorkerConfig struct {
	WorkerCount    int
	LeaseDuration  time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	DefaultTimeout time.Duration
}

// NewWorkerService creates a new worker service
func NewWorkerService(repo repository.JobRepository, m *metrics.Metrics, logger *zap.SugaredLogger, cfg WorkerConfig) *WorkerService {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	return &WorkerService{
		repo:           repo,
		metrics:        m,
		logger:         logger,
		handlers:       make(map[models.JobType]Handler),
		timeouts:       make(map[models.JobType]time.Duration),
		workerCount:    cfg.WorkerCount,
		leaseDuration:  cfg.LeaseDuration,
		backoffBase:    cfg.BackoffBase,
		backoffCap:     cfg.BackoffCap,
		defaultTimeout: cfg.DefaultTimeout,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Register binds a handler to a job type with an execution timeout.
// Registering the same type twice is a configuration error.
func (s *WorkerService) Register(t models.JobType, h Handler, timeout time.Duration) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidJobType, t)
	}
	if _, exists := s.handlers[t]; exists {
		return fmt.Errorf("handler already registered for type %s", t)
	}
	s.handlers[t] = h
	if timeout > 0 {
		s.timeouts[t] = timeout
	}
	return nil
}

// Run starts the pool and blocks until ctx is cancelled.
func (s *WorkerService) Run(ctx context.Context) error {
	s.logger.Infow("worker pool starting", "workers", s.workerCount)

	var wg sync.WaitGroup
	for i := 0; i < s.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()

	s.logger.Info("worker pool stopped")
	return ctx.Err()
}

func (s *WorkerService) runWorker(ctx context.Context, id int) {
	idleWait := idleWaitMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := s.repo.DequeueJob(ctx, s.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorw("dequeue failed", "worker", id, "error", err)
			if sleepErr := sleepCtx(ctx, time.Second); sleepErr != nil {
				return
			}
			continue
		}

		if job == nil {
			if sleepErr := sleepCtx(ctx, idleWait); sleepErr != nil {
				return
			}
			idleWait *= 2
			if idleWait > idleWaitMax {
				idleWait = idleWaitMax
			}
			continue
		}
		idleWait = idleWaitMin

		s.metrics.WorkerStarted()
		s.Execute(ctx, job)
		s.metrics.WorkerFinished()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute dispatches one claimed job to its handler and settles the
// outcome: ack, retry with backoff, or dead letter.
func (s *WorkerService) Execute(ctx context.Context, job *models.Job) {
	handler, ok := s.handlers[job.Type]
	if !ok {
		s.settleFailure(ctx, job, models.Permanent(fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)))
		return
	}

	err := s.runHandler(ctx, handler, job)
	if err == nil {
		if ackErr := s.repo.AckJob(ctx, job.ID); ackErr != nil {
			s.logger.Errorw("failed to ack job", "job_id", job.ID, "error", ackErr)
			return
		}
		s.metrics.RecordDispatch()
		s.logger.Infow("job completed", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts)
		return
	}

	s.settleFailure(ctx, job, err)
}

// runHandler bounds the handler by the per-type timeout. A handler that
// overruns its deadline has its eventual result discarded; the job is
// treated as a retryable timeout and will run again, so handlers must be
// idempotent-safe.
func (s *WorkerService) runHandler(ctx context.Context, handler Handler, job *models.Job) error {
	timeout := s.defaultTimeout
	if t, ok := s.timeouts[job.Type]; ok {
		timeout = t
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorw("handler panicked",
					"job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- handler.Handle(execCtx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		return fmt.Errorf("handler timeout after %s", timeout)
	}
}

// settleFailure applies the retry policy: permanent failures and
// exhausted budgets dead-letter the job, everything else is requeued
// with exponential backoff and jitter.
func (s *WorkerService) settleFailure(ctx context.Context, job *models.Job, execErr error) {
	attempts := job.Attempts + 1
	errText := truncateError(execErr)
	now := time.Now()

	if recErr := s.repo.RecordAttempt(ctx, job.ID, models.AttemptRecord{
		Attempt: attempts,
		Error:   errText,
		At:      now,
	}); recErr != nil {
		s.logger.Errorw("failed to record attempt", "job_id", job.ID, "error", recErr)
	}

	permanent := models.IsPermanent(execErr)
	if permanent || attempts >= job.MaxAttempts {
		reason := errText
		if !permanent {
			reason = fmt.Sprintf("max attempts exceeded: %s", errText)
		}
		job.Attempts = attempts
		if _, dlqErr := s.repo.MoveToDeadLetterQueue(ctx, job, reason); dlqErr != nil {
			s.logger.Errorw("failed to dead-letter job", "job_id", job.ID, "error", dlqErr)
			return
		}
		s.metrics.IncrementDeadLetteredJobs()
		s.logger.Warnw("job dead-lettered",
			"job_id", job.ID, "type", job.Type, "attempts", attempts,
			"permanent", permanent, "error", execErr)
		return
	}

	delay := s.retryDelay(job, attempts, execErr)
	if retryErr := s.repo.RetryJob(ctx, job.ID, attempts, now.Add(delay), errText); retryErr != nil {
		s.logger.Errorw("failed to schedule retry", "job_id", job.ID, "error", retryErr)
		return
	}
	s.metrics.IncrementRetriedJobs()
	s.logger.Infow("job retry scheduled",
		"job_id", job.ID, "type", job.Type, "attempt", attempts,
		"max_attempts", job.MaxAttempts, "delay", delay, "error", execErr)
}

// retryDelay computes min(cap, base*2^(attempt-1)) + jitter(0, base). A
// provider Retry-After hint overrides the computed delay, and Critical
// jobs get their first retry immediately.
func (s *WorkerService) retryDelay(job *models.Job, attempts int, execErr error) time.Duration {
	if hint, ok := models.RetryAfterHint(execErr); ok {
		if hint > s.backoffCap {
			return s.backoffCap
		}
		return hint
	}

	if job.Priority == models.PriorityCritical && attempts == 1 {
		return 0
	}

	delay := s.backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.backoffCap {
			delay = s.backoffCap
			break
		}
	}
	return delay + s.jitter(s.backoffBase)
}

func truncateError(err error) string {
	text := err.Error()
	if len(text) > maxStoredErrorLen {
		return text[:maxStoredErrorLen]
	}
	return text
}
