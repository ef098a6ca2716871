package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending      JobStatus = "PENDING"
	StatusActive       JobStatus = "ACTIVE"
	StatusCompleted    JobStatus = "COMPLETED"
	StatusDeadLettered JobStatus = "DEAD_LETTERED"
)

// JobType identifies which handler processes a job. The set is closed:
// the worker dispatch table covers every value and anything else is a
// permanent failure, never silently dropped.
type JobType string

const (
	TypeProcessWebhook     JobType = "process_webhook"
	TypeGenerateAIResponse JobType = "generate_ai_response"
	TypeDeliverMessage     JobType = "deliver_message"
	TypeSendNotification   JobType = "send_notification"
)

// AllJobTypes lists every valid job type.
var AllJobTypes = []JobType{
	TypeProcessWebhook,
	TypeGenerateAIResponse,
	TypeDeliverMessage,
	TypeSendNotification,
}

// Valid reports whether t is a member of the closed job type set.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority orders jobs into four fixed tiers. Higher values dequeue first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a tier name to its Priority value. An empty string
// means Normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Job is the unit of deferred work held by the spooler.
type Job struct {
	ID             string     `json:"id"`
	Type           JobType    `json:"type"`
	Payload        string     `json:"payload"`
	Priority       Priority   `json:"priority"`
	IdempotencyKey string     `json:"idempotency_key"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NotBefore      time.Time  `json:"not_before"`
	LastError      string     `json:"last_error,omitempty"`
	MerchantID     string     `json:"merchant_id"`
	LeasedAt       *time.Time `json:"leased_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WebhookEvent is an idempotency ledger entry: one row per delivery the
// gate has ever admitted, keyed (platform, external event id).
type WebhookEvent struct {
	Platform        string    `json:"platform"`
	ExternalEventID string    `json:"external_event_id"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
}

// AttemptRecord is one entry of a dead-lettered job's attempt history.
type AttemptRecord struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// DLQEntry is the terminal snapshot of a job that exhausted its retries
// or failed permanently, plus its full attempt history.
type DLQEntry struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	Type           JobType         `json:"type"`
	Payload        string          `json:"payload"`
	Priority       Priority        `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key"`
	MerchantID     string          `json:"merchant_id"`
	Attempts       []AttemptRecord `json:"attempts"`
	FailureReason  string          `json:"failure_reason"`
	FailedAt       time.Time       `json:"failed_at"`
	ReplayedAt     *time.Time      `json:"replayed_at,omitempty"`
	ReplayCount    int             `json:"replay_count"`
}

// CircuitState is the lifecycle state of one circuit breaker entry.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitSnapshot is the persisted and observable form of a breaker entry.
type CircuitSnapshot struct {
	Dependency          string       `json:"dependency"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// QueueStats is the per-tier depth report exposed by the operational API.
type QueueStats struct {
	Pending      map[string]int `json:"pending"`
	Active       int            `json:"active"`
	Completed    int            `json:"completed"`
	DeadLettered int            `json:"dead_lettered"`
}

// PermanentError marks a failure that retries cannot fix. The worker
// dead-letters the job immediately regardless of remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryableError carries an explicit delay hint, typically parsed from a
// provider Retry-After header. The store uses the hint instead of the
// computed backoff when present.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// RetryAfterHint extracts a suggested retry delay from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		return re.RetryAfter, true
	}
	return 0, false
}
