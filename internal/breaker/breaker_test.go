package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"hookq/internal/models"

	"go.uber.org/zap"
)

type mockSaver struct {
	saves []models.CircuitSnapshot
	err   error
}

func (m *mockSaver) SaveCircuitState(ctx context.Context, snap models.CircuitSnapshot) error {
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, snap)
	return nil
}

func newTestRegistry(saver Saver) (*Registry, *time.Time) {
	reg := NewRegistry(5, 60*time.Second, saver, zap.NewNop().Sugar())
	now := time.Now()
	reg.now = func() time.Time { return now }
	return reg, &now
}

func failN(t *testing.T, reg *Registry, dep string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		reg.ReportFailure(context.Background(), dep)
	}
}

func TestRegistry_OpensAtThreshold(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "ai-provider", 4)
	if reg.State("ai-provider") != models.CircuitClosed {
		t.Fatal("expected circuit to stay closed below threshold")
	}
	if err := reg.Allow(ctx, "ai-provider"); err != nil {
		t.Fatalf("expected call to be allowed, got %v", err)
	}

	reg.ReportFailure(ctx, "ai-provider")
	if reg.State("ai-provider") != models.CircuitOpen {
		t.Fatal("expected circuit to open at the fifth failure")
	}
	if err := reg.Allow(ctx, "ai-provider"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestRegistry_SuccessResetsFailureCount(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "ai-provider", 4)
	reg.ReportSuccess(ctx, "ai-provider")
	failN(t, reg, "ai-provider", 4)

	// Failures must be consecutive: the success in between reset the count.
	if reg.State("ai-provider") != models.CircuitClosed {
		t.Fatal("expected circuit to stay closed, failures were not consecutive")
	}
}

func TestRegistry_HalfOpenSingleProbe(t *testing.T) {
	reg, now := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "messaging-send", 5)
	if err := reg.Allow(ctx, "messaging-send"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	*now = now.Add(61 * time.Second)

	// First caller after the reset timeout gets the probe.
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if reg.State("messaging-send") != models.CircuitHalfOpen {
		t.Fatal("expected half-open during probe")
	}

	// Concurrent callers still fail fast while the probe is in flight.
	if err := reg.Allow(ctx, "messaging-send"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected concurrent caller to be refused, got %v", err)
	}
}

func TestRegistry_ProbeSuccessCloses(t *testing.T) {
	reg, now := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "messaging-send", 5)
	*now = now.Add(61 * time.Second)
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}

	reg.ReportSuccess(ctx, "messaging-send")
	if reg.State("messaging-send") != models.CircuitClosed {
		t.Fatal("expected circuit to close after successful probe")
	}
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected calls to flow after close, got %v", err)
	}
}

func TestRegistry_ProbeFailureReopens(t *testing.T) {
	reg, now := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "messaging-send", 5)
	*now = now.Add(61 * time.Second)
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}

	reg.ReportFailure(ctx, "messaging-send")
	if reg.State("messaging-send") != models.CircuitOpen {
		t.Fatal("expected circuit to reopen after failed probe")
	}

	// The reset timeout starts over from the failed probe.
	if err := reg.Allow(ctx, "messaging-send"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	*now = now.Add(61 * time.Second)
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected a fresh probe after the new timeout, got %v", err)
	}
}

func TestRegistry_IndependentDependencies(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	failN(t, reg, "ai-provider", 5)
	if err := reg.Allow(ctx, "ai-provider"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if err := reg.Allow(ctx, "messaging-send"); err != nil {
		t.Fatalf("expected other dependency to stay available, got %v", err)
	}
}

func TestRegistry_PersistsTransitions(t *testing.T) {
	saver := &mockSaver{}
	reg, _ := newTestRegistry(saver)

	failN(t, reg, "ai-provider", 5)
	if len(saver.saves) != 1 {
		t.Fatalf("expected 1 persisted snapshot, got %d", len(saver.saves))
	}
	snap := saver.saves[0]
	if snap.Dependency != "ai-provider" || snap.State != models.CircuitOpen {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.OpenedAt == nil {
		t.Error("expected opened_at on an open snapshot")
	}
}

func TestRegistry_SaveFailureDoesNotBlock(t *testing.T) {
	saver := &mockSaver{err: errors.New("disk full")}
	reg, _ := newTestRegistry(saver)
	ctx := context.Background()

	failN(t, reg, "ai-provider", 5)
	if reg.State("ai-provider") != models.CircuitOpen {
		t.Fatal("expected transition to happen despite save failure")
	}
	if err := reg.Allow(ctx, "ai-provider"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestRegistry_Restore(t *testing.T) {
	reg, now := newTestRegistry(nil)
	ctx := context.Background()

	openedAt := now.Add(-10 * time.Second)
	reg.Restore([]models.CircuitSnapshot{
		{Dependency: "ai-provider", State: models.CircuitOpen, ConsecutiveFailures: 5, OpenedAt: &openedAt},
		{Dependency: "messaging-send", State: models.CircuitHalfOpen, ConsecutiveFailures: 5, OpenedAt: &openedAt},
		{Dependency: "notifications", State: models.CircuitClosed},
	})

	if err := reg.Allow(ctx, "ai-provider"); !errors.Is(err, ErrOpen) {
		t.Errorf("expected restored open circuit to refuse calls, got %v", err)
	}
	// A restart interrupts any in-flight probe, so half-open comes back
	// as open.
	if reg.State("messaging-send") != models.CircuitOpen {
		t.Errorf("expected restored half-open to become open, got %s", reg.State("messaging-send"))
	}
	if err := reg.Allow(ctx, "notifications"); err != nil {
		t.Errorf("expected restored closed circuit to allow calls, got %v", err)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	ctx := context.Background()

	reg.ReportFailure(ctx, "ai-provider")
	reg.ReportSuccess(ctx, "messaging-send")

	snaps := reg.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	states := map[string]models.CircuitState{}
	for _, s := range snaps {
		states[s.Dependency] = s.State
	}
	if states["ai-provider"] != models.CircuitClosed || states["messaging-send"] != models.CircuitClosed {
		t.Errorf("unexpected states %+v", states)
	}
}
