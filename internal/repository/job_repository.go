package repository

import (
	"context"
	"time"

	"hookq/internal/models"
)

// JobRepository defines the interface for durable spooler state: the job
// store, the webhook idempotency ledger, the dead letter queue and the
// persisted circuit breaker snapshots.
type JobRepository interface {
	// Job store
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)
	DequeueJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error)
	AckJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, attempts int, notBefore time.Time, lastError string) error
	RecordAttempt(ctx context.Context, jobID string, rec models.AttemptRecord) error
	MoveToDeadLetterQueue(ctx context.Context, job *models.Job, failureReason string) (*models.DLQEntry, error)

	// Idempotency ledger
	InsertWebhookEvent(ctx context.Context, platform, externalEventID string) (bool, error)
	DeleteWebhookEvent(ctx context.Context, platform, externalEventID string) error

	// Dead letter queue
	ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error)
	GetDLQEntry(ctx context.Context, id string) (*models.DLQEntry, error)
	MarkDLQReplayed(ctx context.Context, id string, at time.Time) error

	// Observability
	GetQueueStats(ctx context.Context) (*models.QueueStats, error)
	CountEligiblePending(ctx context.Context, now time.Time) (int, error)
	LastCompletedAt(ctx context.Context) (*time.Time, error)
	CountCompletedSince(ctx context.Context, since time.Time) (int, error)

	// Circuit breaker persistence
	SaveCircuitState(ctx context.Context, snap models.CircuitSnapshot) error
	ListCircuitStates(ctx context.Context) ([]models.CircuitSnapshot, error)
}
