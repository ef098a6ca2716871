package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"hookq/internal/metrics"
	"hookq/internal/models"
	"hookq/internal/repository"

	"go.uber.org/zap"
)

func newTestQueueService(repo *mockJobRepository) *QueueService {
	return NewQueueService(repo, metrics.NewMetrics(), zap.NewNop().Sugar(), 3)
}

func TestQueueService_Enqueue(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)

	job, err := svc.Enqueue(context.Background(), EnqueueParams{
		Type:           models.TypeProcessWebhook,
		Payload:        `{"text":"hi"}`,
		Priority:       models.PriorityHigh,
		IdempotencyKey: "key-1",
		MerchantID:     "merchant-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.ID == "" {
		t.Error("expected generated job id")
	}
	if job.Status != models.StatusPending {
		t.Errorf("expected PENDING, got %s", job.Status)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("expected default retry budget 3, got %d", job.MaxAttempts)
	}
}

func TestQueueService_Enqueue_Validation(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)

	_, err := svc.Enqueue(context.Background(), EnqueueParams{
		Type:           models.JobType("mystery"),
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, ErrInvalidJobType) {
		t.Errorf("expected ErrInvalidJobType, got %v", err)
	}

	_, err = svc.Enqueue(context.Background(), EnqueueParams{
		Type: models.TypeProcessWebhook,
	})
	if err == nil {
		t.Error("expected missing idempotency key to fail")
	}
}

func TestQueueService_Enqueue_DuplicateReturnsExisting(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)
	ctx := context.Background()

	params := EnqueueParams{
		Type:           models.TypeProcessWebhook,
		Payload:        `{"text":"hi"}`,
		IdempotencyKey: "key-1",
	}
	first, err := svc.Enqueue(ctx, params)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second, err := svc.Enqueue(ctx, params)
	if err != nil {
		t.Fatalf("duplicate submission must not be an error, got %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing job %s, got %s", first.ID, second.ID)
	}
	if len(repo.jobs) != 1 {
		t.Errorf("expected 1 stored job, got %d", len(repo.jobs))
	}
}

// Interleaved submissions: two distinct events around a duplicate of the
// first. The duplicate binds to the original job, the second event gets
// its own.
func TestQueueService_Enqueue_InterleavedDuplicate(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)
	ctx := context.Background()

	jobA1, err := svc.EnqueueWebhookJob(ctx, "evt-a", `{"n":1}`, "merchant-1", "instagram", models.PriorityNormal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	jobB, err := svc.EnqueueWebhookJob(ctx, "evt-b", `{"n":2}`, "merchant-1", "instagram", models.PriorityNormal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	jobA2, err := svc.EnqueueWebhookJob(ctx, "evt-a", `{"n":1}`, "merchant-1", "instagram", models.PriorityNormal)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if jobA2 != jobA1 {
		t.Errorf("expected duplicate to return original job %s, got %s", jobA1, jobA2)
	}
	if jobB == jobA1 {
		t.Error("expected distinct events to get distinct jobs")
	}
	if len(repo.jobs) != 2 {
		t.Errorf("expected 2 stored jobs, got %d", len(repo.jobs))
	}
}

func TestQueueService_GetJob_NotFound(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)

	_, err := svc.GetJob(context.Background(), "no-such-job")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestQueueService_ReplayDLQEntry(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)
	ctx := context.Background()

	repo.dlqEntries["dlq-1"] = &models.DLQEntry{
		ID:             "dlq-1",
		JobID:          "job-dead",
		Type:           models.TypeDeliverMessage,
		Payload:        `{"text":"hi"}`,
		Priority:       models.PriorityHigh,
		IdempotencyKey: "key-dead",
		MerchantID:     "merchant-1",
	}

	newID, err := svc.ReplayDLQEntry(ctx, "dlq-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	job, err := repo.GetJobByID(ctx, newID)
	if err != nil {
		t.Fatalf("expected replayed job to exist, got %v", err)
	}
	if job.Status != models.StatusPending || job.Attempts != 0 {
		t.Errorf("expected fresh pending job, got status=%s attempts=%d", job.Status, job.Attempts)
	}
	if job.Type != models.TypeDeliverMessage || job.Priority != models.PriorityHigh {
		t.Errorf("expected original type and priority, got %+v", job)
	}
	// The retired key must not be reused verbatim.
	if job.IdempotencyKey == "key-dead" {
		t.Error("expected derived idempotency key")
	}
	if !strings.HasPrefix(job.IdempotencyKey, "key-dead:replay-") {
		t.Errorf("unexpected derived key %q", job.IdempotencyKey)
	}
}

func TestQueueService_ReplayDLQEntry_OnlyOnce(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)
	ctx := context.Background()

	repo.dlqEntries["dlq-1"] = &models.DLQEntry{
		ID:             "dlq-1",
		JobID:          "job-dead",
		Type:           models.TypeProcessWebhook,
		Payload:        `{}`,
		IdempotencyKey: "key-dead",
	}

	if _, err := svc.ReplayDLQEntry(ctx, "dlq-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := svc.ReplayDLQEntry(ctx, "dlq-1"); !errors.Is(err, repository.ErrAlreadyReplayed) {
		t.Errorf("expected ErrAlreadyReplayed, got %v", err)
	}
	if _, err := svc.ReplayDLQEntry(ctx, "no-such-entry"); !errors.Is(err, repository.ErrDLQEntryNotFound) {
		t.Errorf("expected ErrDLQEntryNotFound, got %v", err)
	}
}

func TestQueueService_ReplayDLQEntry_EnqueueFailureKeepsEntryReplayable(t *testing.T) {
	repo := newMockJobRepository()
	svc := newTestQueueService(repo)
	ctx := context.Background()

	repo.dlqEntries["dlq-1"] = &models.DLQEntry{
		ID:             "dlq-1",
		JobID:          "job-dead",
		Type:           models.TypeProcessWebhook,
		Payload:        `{}`,
		IdempotencyKey: "key-dead",
	}

	repo.createErr = errors.New("database is locked")
	if _, err := svc.ReplayDLQEntry(ctx, "dlq-1"); err == nil {
		t.Fatal("expected enqueue failure to propagate")
	}
	if repo.dlqEntries["dlq-1"].ReplayedAt != nil {
		t.Fatal("failed replay must not mark the entry replayed")
	}

	// A second attempt after the store recovers must succeed.
	repo.createErr = nil
	newID, err := svc.ReplayDLQEntry(ctx, "dlq-1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if _, err := repo.GetJobByID(ctx, newID); err != nil {
		t.Fatalf("expected replayed job to exist, got %v", err)
	}
}
