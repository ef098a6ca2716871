package service

import (
	"context"
	"fmt"
	"time"

	"hookq/internal/models"
	"hookq/internal/repository"
)

// circuitAlertAfter is how long a circuit may stay open before health
// calls it out.
const circuitAlertAfter = 60 * time.Second

// HealthReport is the combined verdict the operational API exposes.
type HealthReport struct {
	Healthy         bool                     `json:"healthy"`
	Recommendations []string                 `json:"recommendations"`
	Stats           *models.QueueStats       `json:"stats"`
	Circuits        []models.CircuitSnapshot `json:"circuits"`
	LastDispatchAt  *time.Time               `json:"last_dispatch_at,omitempty"`
	RatePerSecond   float64                  `json:"rate_per_second"`
	EligiblePending int                      `json:"eligible_pending"`
}

// HealthEvaluator derives queue depth, throughput and circuit state into
// a single healthy/unhealthy verdict with actionable recommendations.
// It reads durable state only, so it works from any process sharing the
// store.
type HealthEvaluator struct {
	repo        repository.JobRepository
	graceWindow time.Duration
	now         func() time.Time
}

// NewHealthEvaluator creates an evaluator. graceWindow is how long
// eligible pending jobs may sit without any processing before the pool
// is considered stalled.
func NewHealthEvaluator(repo repository.JobRepository, graceWindow time.Duration) *HealthEvaluator {
	if graceWindow <= 0 {
		graceWindow = 2 * time.Minute
	}
	return &HealthEvaluator{
		repo:        repo,
		graceWindow: graceWindow,
		now:         time.Now,
	}
}

// Evaluate builds the current health report. A store failure is itself
// an unhealthy verdict, never silently swallowed.
func (h *HealthEvaluator) Evaluate(ctx context.Context) (*HealthReport, error) {
	now := h.now()
	report := &HealthReport{Healthy: true, Recommendations: []string{}}

	stats, err := h.repo.GetQueueStats(ctx)
	if err != nil {
		report.Healthy = false
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("job store unreachable: %v", err))
		return report, nil
	}
	report.Stats = stats

	eligible, err := h.repo.CountEligiblePending(ctx, now)
	if err != nil {
		report.Healthy = false
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("job store unreachable: %v", err))
		return report, nil
	}
	report.EligiblePending = eligible

	lastCompleted, err := h.repo.LastCompletedAt(ctx)
	if err != nil {
		report.Healthy = false
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("job store unreachable: %v", err))
		return report, nil
	}
	report.LastDispatchAt = lastCompleted

	completed, err := h.repo.CountCompletedSince(ctx, now.Add(-time.Minute))
	if err == nil {
		report.RatePerSecond = float64(completed) / 60.0
	}

	// Stalled pool: eligible work, nothing active, and no dispatch
	// inside the grace window.
	if eligible > 0 && stats.Active == 0 {
		stalled := lastCompleted == nil || now.Sub(*lastCompleted) > h.graceWindow
		if stalled {
			report.Healthy = false
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("no active processing despite %d pending jobs; check worker processes", eligible))
		}
	}

	circuits, err := h.repo.ListCircuitStates(ctx)
	if err != nil {
		report.Healthy = false
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("job store unreachable: %v", err))
		return report, nil
	}
	report.Circuits = circuits

	for _, c := range circuits {
		if c.State == models.CircuitOpen && c.OpenedAt != nil {
			openFor := now.Sub(*c.OpenedAt)
			if openFor > circuitAlertAfter {
				report.Healthy = false
				report.Recommendations = append(report.Recommendations,
					fmt.Sprintf("circuit open on dependency %s for %s; check provider status",
						c.Dependency, openFor.Round(time.Second)))
			}
		}
	}

	return report, nil
}
