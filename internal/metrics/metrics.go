package metrics

import (
	"sync"
	"time"
)

// rateWindow bounds the rolling throughput estimate.
const rateWindow = 60 * time.Second

// Metrics tracks in-process spooler counters and worker pool throughput.
type Metrics struct {
	mu sync.RWMutex

	enqueuedJobs     int64
	completedJobs    int64
	retriedJobs      int64
	deadLetteredJobs int64
	duplicateEvents  int64

	activeWorkers  int
	lastDispatchAt time.Time
	dispatches     []time.Time

	now func() time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{now: time.Now}
}

// IncrementEnqueuedJobs increments the enqueued jobs counter
func (m *Metrics) IncrementEnqueuedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueuedJobs++
}

// IncrementRetriedJobs increments the retried jobs counter
func (m *Metrics) IncrementRetriedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retriedJobs++
}

// IncrementDeadLetteredJobs increments the dead-lettered jobs counter
func (m *Metrics) IncrementDeadLetteredJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetteredJobs++
}

// IncrementDuplicateEvents increments the absorbed re-delivery counter
func (m *Metrics) IncrementDuplicateEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicateEvents++
}

// WorkerStarted records one executor entering job execution.
func (m *Metrics) WorkerStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWorkers++
}

// WorkerFinished records one executor leaving job execution.
func (m *Metrics) WorkerFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeWorkers > 0 {
		m.activeWorkers--
	}
}

// RecordDispatch records one successful job completion, feeding the
// last-dispatch timestamp and the rolling jobs/sec rate.
func (m *Metrics) RecordDispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.completedJobs++
	m.lastDispatchAt = now
	m.dispatches = append(m.dispatches, now)
	m.pruneLocked(now)
}

func (m *Metrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	kept := m.dispatches[:0]
	for _, t := range m.dispatches {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.dispatches = kept
}

// ActiveWorkers returns the number of executors currently running a job.
func (m *Metrics) ActiveWorkers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeWorkers
}

// LastDispatchAt returns the time of the last successful completion, or
// the zero time when nothing has completed.
func (m *Metrics) LastDispatchAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDispatchAt
}

// RatePerSecond returns the rolling completion rate over the last minute.
func (m *Metrics) RatePerSecond() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
	return float64(len(m.dispatches)) / rateWindow.Seconds()
}

// GetSnapshot returns a snapshot of all counters
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"enqueued_jobs":      m.enqueuedJobs,
		"completed_jobs":     m.completedJobs,
		"retried_jobs":       m.retriedJobs,
		"dead_lettered_jobs": m.deadLetteredJobs,
		"duplicate_events":   m.duplicateEvents,
		"active_workers":     int64(m.activeWorkers),
	}
}
