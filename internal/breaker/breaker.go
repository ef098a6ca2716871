package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"hookq/internal/models"

	"go.uber.org/zap"
)

// ErrOpen is returned by Allow when a dependency's circuit is open and
// the reset timeout has not elapsed.
var ErrOpen = errors.New("circuit open")

// Saver persists breaker snapshots so circuit state survives restarts.
// Persistence is best effort: a save failure never blocks a transition.
type Saver interface {
	SaveCircuitState(ctx context.Context, snap models.CircuitSnapshot) error
}

// Registry tracks one circuit breaker state machine per dependency name.
// Entries are created lazily on first use and never deleted, only reset.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	threshold    int
	resetTimeout time.Duration
	saver        Saver
	logger       *zap.SugaredLogger
	now          func() time.Time
}

// entry holds one dependency's state. All reads and writes happen under
// the entry mutex so concurrent workers never race a transition.
type entry struct {
	mu                  sync.Mutex
	state               models.CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewRegistry creates a registry with the given failure threshold and
// open-state reset timeout. saver may be nil to disable persistence.
func NewRegistry(threshold int, resetTimeout time.Duration, saver Saver, logger *zap.SugaredLogger) *Registry {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &Registry{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		saver:        saver,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Registry) entryFor(dependency string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[dependency]
	if !ok {
		e = &entry{state: models.CircuitClosed}
		r.entries[dependency] = e
	}
	return e
}

// Allow reports whether a call to dependency may proceed. When the
// circuit is open and the reset timeout has elapsed, the state moves to
// half-open and exactly one probe call is let through; concurrent calls
// during the probe still fail fast.
func (r *Registry) Allow(ctx context.Context, dependency string) error {
	e := r.entryFor(dependency)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case models.CircuitClosed:
		return nil
	case models.CircuitOpen:
		if r.now().Sub(e.openedAt) < r.resetTimeout {
			return ErrOpen
		}
		e.state = models.CircuitHalfOpen
		e.probing = true
		r.persist(ctx, dependency, e)
		r.logf("circuit half-open, allowing probe", dependency)
		return nil
	case models.CircuitHalfOpen:
		if e.probing {
			return ErrOpen
		}
		e.probing = true
		return nil
	}
	return nil
}

// ReportSuccess records a successful call, closing the circuit.
func (r *Registry) ReportSuccess(ctx context.Context, dependency string) {
	e := r.entryFor(dependency)
	e.mu.Lock()
	defer e.mu.Unlock()

	prior := e.state
	e.consecutiveFailures = 0
	e.probing = false
	e.state = models.CircuitClosed
	e.openedAt = time.Time{}
	if prior != models.CircuitClosed {
		r.persist(ctx, dependency, e)
		r.logf("circuit closed after successful probe", dependency)
	}
}

// ReportFailure records a failed call. Reaching the threshold in the
// closed state, or any failure in the half-open state, opens the circuit.
func (r *Registry) ReportFailure(ctx context.Context, dependency string) {
	e := r.entryFor(dependency)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.probing = false

	switch e.state {
	case models.CircuitClosed:
		if e.consecutiveFailures >= r.threshold {
			e.state = models.CircuitOpen
			e.openedAt = r.now()
			r.persist(ctx, dependency, e)
			r.logf("circuit opened", dependency)
		}
	case models.CircuitHalfOpen:
		e.state = models.CircuitOpen
		e.openedAt = r.now()
		r.persist(ctx, dependency, e)
		r.logf("probe failed, circuit reopened", dependency)
	}
}

// State returns the current state for a dependency.
func (r *Registry) State(dependency string) models.CircuitState {
	e := r.entryFor(dependency)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the observable state of every known dependency.
func (r *Registry) Snapshot() []models.CircuitSnapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	snaps := make([]models.CircuitSnapshot, 0, len(names))
	for _, name := range names {
		snaps = append(snaps, r.snapshotOf(name))
	}
	return snaps
}

func (r *Registry) snapshotOf(dependency string) models.CircuitSnapshot {
	e := r.entryFor(dependency)
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(dependency, e, r.now())
}

func snapshotLocked(dependency string, e *entry, now time.Time) models.CircuitSnapshot {
	snap := models.CircuitSnapshot{
		Dependency:          dependency,
		State:               e.state,
		ConsecutiveFailures: e.consecutiveFailures,
		UpdatedAt:           now,
	}
	if !e.openedAt.IsZero() {
		t := e.openedAt
		snap.OpenedAt = &t
	}
	return snap
}

// Restore seeds the registry from persisted snapshots, typically at
// process start.
func (r *Registry) Restore(snaps []models.CircuitSnapshot) {
	for _, snap := range snaps {
		e := r.entryFor(snap.Dependency)
		e.mu.Lock()
		e.state = snap.State
		e.consecutiveFailures = snap.ConsecutiveFailures
		if snap.OpenedAt != nil {
			e.openedAt = *snap.OpenedAt
		}
		// A restart interrupts any in-flight probe
		if e.state == models.CircuitHalfOpen {
			e.state = models.CircuitOpen
		}
		e.probing = false
		e.mu.Unlock()
	}
}

func (r *Registry) persist(ctx context.Context, dependency string, e *entry) {
	if r.saver == nil {
		return
	}
	if err := r.saver.SaveCircuitState(ctx, snapshotLocked(dependency, e, r.now())); err != nil && r.logger != nil {
		r.logger.Warnw("failed to persist circuit state", "dependency", dependency, "error", err)
	}
}

func (r *Registry) logf(msg, dependency string) {
	if r.logger != nil {
		r.logger.Infow(msg, "dependency", dependency)
	}
}
