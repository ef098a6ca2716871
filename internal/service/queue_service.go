package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hookq/internal/metrics"
	"hookq/internal/models"
	"hookq/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJobType = errors.New("invalid job type")
)

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// EnqueueParams describes a job submission.
type EnqueueParams struct {
	Type           models.JobType
	Payload        string
	Priority       models.Priority
	IdempotencyKey string
	MerchantID     string
	MaxAttempts    int
}

// QueueService owns job submission, inspection and DLQ replay. It is
// constructed once at process start and passed by handle to the gate and
// the HTTP layer.
type QueueService struct {
	repo        repository.JobRepository
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
	maxAttempts int
}

// NewQueueService creates a new queue service. maxAttempts is the
// default retry budget for jobs that do not specify one.
func NewQueueService(repo repository.JobRepository, m *metrics.Metrics, logger *zap.SugaredLogger, maxAttempts int) *QueueService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &QueueService{
		repo:        repo,
		metrics:     m,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Enqueue inserts a job. Submitting an idempotency key that already has a
// live job is not an error: the existing job is returned so callers can
// retry submissions safely.
func (s *QueueService) Enqueue(ctx context.Context, params EnqueueParams) (*models.Job, error) {
	if !params.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobType, params.Type)
	}
	if params.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	job := &models.Job{
		ID:             uuid.New().String(),
		Type:           params.Type,
		Payload:        params.Payload,
		Priority:       params.Priority,
		IdempotencyKey: params.IdempotencyKey,
		Status:         models.StatusPending,
		MaxAttempts:    maxAttempts,
		MerchantID:     params.MerchantID,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		var dupErr *repository.ErrDuplicateIdempotencyKey
		if errors.As(err, &dupErr) {
			existing, fetchErr := s.repo.GetJobByIdempotencyKey(ctx, dupErr.IdempotencyKey)
			if fetchErr != nil {
				return nil, fmt.Errorf("failed to fetch existing job: %w", fetchErr)
			}
			if existing != nil {
				s.logger.Infow("duplicate submission absorbed",
					"job_id", existing.ID, "idempotency_key", dupErr.IdempotencyKey)
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.IncrementEnqueuedJobs()
	s.logger.Infow("job enqueued",
		"job_id", job.ID, "type", job.Type, "priority", job.Priority.String(),
		"merchant_id", job.MerchantID)

	return job, nil
}

// EnqueueWebhookJob submits a ProcessWebhook job for one admitted
// sub-event. The idempotency key is derived from the platform and the
// sub-event identity so partial-batch retries do not double-process.
func (s *QueueService) EnqueueWebhookJob(ctx context.Context, eventID, payload, merchantID, platform string, priority models.Priority) (string, error) {
	job, err := s.Enqueue(ctx, EnqueueParams{
		Type:           models.TypeProcessWebhook,
		Payload:        payload,
		Priority:       priority,
		IdempotencyKey: fmt.Sprintf("%s:%s", platform, eventID),
		MerchantID:     merchantID,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// EnqueueAIResponseJob submits a GenerateAIResponse job for a
// conversation message.
func (s *QueueService) EnqueueAIResponseJob(ctx context.Context, conversationID, merchantID, customerID, message, platform string, priority models.Priority) (string, error) {
	payload, err := marshalPayload(models.AIResponseJobPayload{
		ConversationID: conversationID,
		MerchantID:     merchantID,
		CustomerID:     customerID,
		Message:        message,
		Platform:       platform,
	})
	if err != nil {
		return "", err
	}

	job, err := s.Enqueue(ctx, EnqueueParams{
		Type:           models.TypeGenerateAIResponse,
		Payload:        payload,
		Priority:       priority,
		IdempotencyKey: fmt.Sprintf("ai:%s:%s", platform, conversationID),
		MerchantID:     merchantID,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// GetJob retrieves a job by ID
func (s *QueueService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetQueueStats returns per-tier queue depth and status counts.
func (s *QueueService) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := s.repo.GetQueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return stats, nil
}

// ListDLQEntries retrieves dead letter entries, newest first.
func (s *QueueService) ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	entries, err := s.repo.ListDLQEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	return entries, nil
}

// GetDLQEntry retrieves a single dead letter entry by ID.
func (s *QueueService) GetDLQEntry(ctx context.Context, entryID string) (*models.DLQEntry, error) {
	return s.repo.GetDLQEntry(ctx, entryID)
}

// ReplayDLQEntry re-injects a dead-lettered job as a fresh Pending job
// with a zeroed attempt counter. The new idempotency key is derived from
// the original plus the replay counter so it cannot collide with the
// retired key. An entry can only be replayed once.
func (s *QueueService) ReplayDLQEntry(ctx context.Context, entryID string) (string, error) {
	entry, err := s.repo.GetDLQEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	if entry.ReplayedAt != nil {
		return "", repository.ErrAlreadyReplayed
	}

	// Enqueue first: if the insert fails the entry stays replayable. The
	// derived key dedupes a repeat attempt against an already-created job,
	// and the conditional update below still guards concurrent replays.
	job, err := s.Enqueue(ctx, EnqueueParams{
		Type:           entry.Type,
		Payload:        entry.Payload,
		Priority:       entry.Priority,
		IdempotencyKey: fmt.Sprintf("%s:replay-%d", entry.IdempotencyKey, entry.ReplayCount+1),
		MerchantID:     entry.MerchantID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to re-inject dead letter entry %s: %w", entryID, err)
	}

	if err := s.repo.MarkDLQReplayed(ctx, entryID, time.Now()); err != nil {
		return "", err
	}

	s.logger.Infow("dead letter entry replayed",
		"entry_id", entryID, "original_job_id", entry.JobID, "new_job_id", job.ID)
	return job.ID, nil
}
