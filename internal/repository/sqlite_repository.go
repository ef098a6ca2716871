package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hookq/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrDLQEntryNotFound is returned when a DLQ entry id does not exist.
var ErrDLQEntryNotFound = errors.New("dead letter entry not found")

// ErrAlreadyReplayed is returned when a DLQ entry was replayed before.
var ErrAlreadyReplayed = errors.New("dead letter entry already replayed")

// ErrDuplicateIdempotencyKey is returned when a live job with the same
// idempotency key already exists.
type ErrDuplicateIdempotencyKey struct {
	IdempotencyKey string
}

func (e *ErrDuplicateIdempotencyKey) Error() string {
	return fmt.Sprintf("job with idempotency_key %s already exists", e.IdempotencyKey)
}

// SQLiteRepository implements JobRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema initializes the database schema. Timestamp columns hold Unix
// nanoseconds so created_at ordering stays stable within a burst of inserts.
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 1,
		idempotency_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		not_before INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		merchant_id TEXT NOT NULL DEFAULT '',
		leased_at INTEGER,
		lease_expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_dequeue ON jobs(status, priority, not_before);
	CREATE INDEX IF NOT EXISTS idx_jobs_lease_expires ON jobs(lease_expires_at);

	CREATE TABLE IF NOT EXISTS job_attempts (
		job_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		error TEXT NOT NULL,
		at INTEGER NOT NULL,
		PRIMARY KEY (job_id, attempt)
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		platform TEXT NOT NULL,
		external_event_id TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL,
		PRIMARY KEY (platform, external_event_id)
	);

	CREATE TABLE IF NOT EXISTS dead_letter_jobs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		merchant_id TEXT NOT NULL,
		attempts TEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		failed_at INTEGER NOT NULL,
		replayed_at INTEGER,
		replay_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_failed_at ON dead_letter_jobs(failed_at);

	CREATE TABLE IF NOT EXISTS circuit_breaker_states (
		dependency TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		consecutive_failures INTEGER NOT NULL,
		opened_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

// CreateJob creates a new job
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, type, payload, priority, idempotency_key, status, attempts,
		                  max_attempts, not_before, last_error, merchant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.NotBefore.IsZero() {
		job.NotBefore = now
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Payload,
		job.Priority,
		job.IdempotencyKey,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.NotBefore.UnixNano(),
		job.LastError,
		job.MerchantID,
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)

	if err != nil {
		// SQLite reports idempotency key conflicts as UNIQUE violations
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &ErrDuplicateIdempotencyKey{IdempotencyKey: job.IdempotencyKey}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

const jobColumns = `id, type, payload, priority, idempotency_key, status, attempts,
	max_attempts, not_before, last_error, merchant_id, leased_at, lease_expires_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var notBefore, createdAt, updatedAt int64
	var leasedAt, leaseExpiresAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Payload,
		&job.Priority,
		&job.IdempotencyKey,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&notBefore,
		&job.LastError,
		&job.MerchantID,
		&leasedAt,
		&leaseExpiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.NotBefore = time.Unix(0, notBefore)
	job.CreatedAt = time.Unix(0, createdAt)
	job.UpdatedAt = time.Unix(0, updatedAt)

	if leasedAt.Valid {
		t := time.Unix(0, leasedAt.Int64)
		job.LeasedAt = &t
	}
	if leaseExpiresAt.Valid {
		t := time.Unix(0, leaseExpiresAt.Int64)
		job.LeaseExpiresAt = &t
	}

	return &job, nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobByIdempotencyKey retrieves a live job by idempotency key. Returns
// (nil, nil) when no such job exists.
func (r *SQLiteRepository) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// DequeueJob claims the next eligible job inside a transaction: the
// highest-priority PENDING job whose not_before has passed, or an ACTIVE
// job whose lease expired (worker crash reclamation). The claimed job is
// marked ACTIVE with a fresh lease so no other dequeue call returns it.
func (r *SQLiteRepository) DequeueJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	nowNano := now.UnixNano()
	expiresAt := now.Add(leaseDuration)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE (status = 'PENDING' AND not_before <= ?)
		   OR (status = 'ACTIVE' AND lease_expires_at < ?)
		ORDER BY priority DESC, not_before ASC, created_at ASC
		LIMIT 1
	`

	job, err := scanJob(tx.QueryRowContext(ctx, query, nowNano, nowNano))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find dequeuable job: %w", err)
	}

	updateQuery := `
		UPDATE jobs
		SET status = 'ACTIVE',
		    leased_at = ?,
		    lease_expires_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	if _, err := tx.ExecContext(ctx, updateQuery, nowNano, expiresAt.UnixNano(), nowNano, job.ID); err != nil {
		return nil, fmt.Errorf("failed to update job lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	job.Status = models.StatusActive
	job.LeasedAt = &now
	job.LeaseExpiresAt = &expiresAt
	job.UpdatedAt = now

	return job, nil
}

// AckJob marks an active job COMPLETED. Completed is terminal.
func (r *SQLiteRepository) AckJob(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = 'COMPLETED', leased_at = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'
	`

	res, err := r.db.ExecContext(ctx, query, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows != 1 {
		return fmt.Errorf("ack job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// RetryJob returns a failed job to PENDING with its attempt counter and
// backoff deadline updated.
func (r *SQLiteRepository) RetryJob(ctx context.Context, id string, attempts int, notBefore time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'PENDING',
		    attempts = ?,
		    not_before = ?,
		    last_error = ?,
		    leased_at = NULL,
		    lease_expires_at = NULL,
		    updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query, attempts, notBefore.UnixNano(), lastError, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// RecordAttempt appends one failed attempt to a job's durable history.
func (r *SQLiteRepository) RecordAttempt(ctx context.Context, jobID string, rec models.AttemptRecord) error {
	query := `INSERT OR REPLACE INTO job_attempts (job_id, attempt, error, at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, jobID, rec.Attempt, rec.Error, rec.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// MoveToDeadLetterQueue writes a terminal DLQ entry carrying the job
// snapshot and its full attempt history, then removes the job row. Both
// happen in one transaction so the payload is never lost.
func (r *SQLiteRepository) MoveToDeadLetterQueue(ctx context.Context, job *models.Job, failureReason string) (*models.DLQEntry, error) {
	history, err := r.listAttempts(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attempt history: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry := &models.DLQEntry{
		ID:             uuid.New().String(),
		JobID:          job.ID,
		Type:           job.Type,
		Payload:        job.Payload,
		Priority:       job.Priority,
		IdempotencyKey: job.IdempotencyKey,
		MerchantID:     job.MerchantID,
		Attempts:       history,
		FailureReason:  failureReason,
		FailedAt:       time.Now(),
	}

	insertQuery := `
		INSERT INTO dead_letter_jobs (id, job_id, type, payload, priority, idempotency_key,
		                              merchant_id, attempts, failure_reason, failed_at, replay_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`

	_, err = tx.ExecContext(ctx, insertQuery,
		entry.ID,
		entry.JobID,
		entry.Type,
		entry.Payload,
		entry.Priority,
		entry.IdempotencyKey,
		entry.MerchantID,
		string(historyJSON),
		entry.FailureReason,
		entry.FailedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into dead letter queue: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", job.ID); err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM job_attempts WHERE job_id = ?", job.ID); err != nil {
		return nil, fmt.Errorf("failed to delete attempt history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

func (r *SQLiteRepository) listAttempts(ctx context.Context, jobID string) ([]models.AttemptRecord, error) {
	query := `SELECT attempt, error, at FROM job_attempts WHERE job_id = ? ORDER BY attempt ASC`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	history := []models.AttemptRecord{}
	for rows.Next() {
		var rec models.AttemptRecord
		var at int64
		if err := rows.Scan(&rec.Attempt, &rec.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.At = time.Unix(0, at)
		history = append(history, rec)
	}
	return history, rows.Err()
}

// InsertWebhookEvent inserts a delivery identity into the idempotency
// ledger. A duplicate is not an error: the second return is false and the
// caller absorbs the re-delivery silently.
func (r *SQLiteRepository) InsertWebhookEvent(ctx context.Context, platform, externalEventID string) (bool, error) {
	query := `INSERT INTO webhook_events (platform, external_event_id, first_seen_at) VALUES (?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, platform, externalEventID, time.Now().UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return true, nil
}

// DeleteWebhookEvent removes a delivery identity from the ledger. The
// gate calls this to unwind an admission whose fan-out failed, so the
// provider's retry is processed instead of absorbed as a duplicate.
func (r *SQLiteRepository) DeleteWebhookEvent(ctx context.Context, platform, externalEventID string) error {
	query := `DELETE FROM webhook_events WHERE platform = ? AND external_event_id = ?`

	_, err := r.db.ExecContext(ctx, query, platform, externalEventID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook event: %w", err)
	}
	return nil
}

const dlqColumns = `id, job_id, type, payload, priority, idempotency_key, merchant_id,
	attempts, failure_reason, failed_at, replayed_at, replay_count`

func scanDLQEntry(row rowScanner) (*models.DLQEntry, error) {
	var entry models.DLQEntry
	var attemptsJSON string
	var failedAt int64
	var replayedAt sql.NullInt64

	err := row.Scan(
		&entry.ID,
		&entry.JobID,
		&entry.Type,
		&entry.Payload,
		&entry.Priority,
		&entry.IdempotencyKey,
		&entry.MerchantID,
		&attemptsJSON,
		&entry.FailureReason,
		&failedAt,
		&replayedAt,
		&entry.ReplayCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(attemptsJSON), &entry.Attempts); err != nil {
		return nil, fmt.Errorf("failed to decode attempt history: %w", err)
	}
	entry.FailedAt = time.Unix(0, failedAt)
	if replayedAt.Valid {
		t := time.Unix(0, replayedAt.Int64)
		entry.ReplayedAt = &t
	}

	return &entry, nil
}

// ListDLQEntries retrieves dead letter entries, newest first.
func (r *SQLiteRepository) ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_jobs ORDER BY failed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter queue: %w", err)
	}
	defer rows.Close()

	var entries []*models.DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetDLQEntry retrieves a single dead letter entry by id.
func (r *SQLiteRepository) GetDLQEntry(ctx context.Context, id string) (*models.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_jobs WHERE id = ?`

	entry, err := scanDLQEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDLQEntryNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}
	return entry, nil
}

// MarkDLQReplayed marks an entry replayed. Replaying twice is an error:
// the conditional update only matches entries never replayed before.
func (r *SQLiteRepository) MarkDLQReplayed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE dead_letter_jobs
		SET replayed_at = ?, replay_count = replay_count + 1
		WHERE id = ? AND replayed_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry replayed: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows != 1 {
		if _, getErr := r.GetDLQEntry(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyReplayed
	}
	return nil
}

// GetQueueStats returns per-tier pending depth plus active, completed and
// dead-lettered counts.
func (r *SQLiteRepository) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{Pending: map[string]int{}}
	for _, p := range []models.Priority{models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityCritical} {
		stats.Pending[p.String()] = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM jobs WHERE status = 'PENDING' GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var priority models.Priority
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan pending count: %w", err)
		}
		stats.Pending[priority.String()] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending counts: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'ACTIVE'`).Scan(&stats.Active); err != nil {
		return nil, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'COMPLETED'`).Scan(&stats.Completed); err != nil {
		return nil, fmt.Errorf("failed to count completed jobs: %w", err)
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letter_jobs`).Scan(&stats.DeadLettered); err != nil {
		return nil, fmt.Errorf("failed to count dead letter jobs: %w", err)
	}

	return stats, nil
}

// CountEligiblePending counts PENDING jobs whose not_before has passed.
// Feeds the stalled-worker health rule.
func (r *SQLiteRepository) CountEligiblePending(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'PENDING' AND not_before <= ?`, now.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible pending jobs: %w", err)
	}
	return count, nil
}

// LastCompletedAt returns the time of the most recent successful
// dispatch, or nil when nothing has completed yet.
func (r *SQLiteRepository) LastCompletedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM jobs WHERE status = 'COMPLETED'`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to find last completed job: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := time.Unix(0, last.Int64)
	return &t, nil
}

// CountCompletedSince counts jobs completed at or after since, used for
// the rolling throughput estimate.
func (r *SQLiteRepository) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'COMPLETED' AND updated_at >= ?`, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed jobs: %w", err)
	}
	return count, nil
}

// SaveCircuitState upserts one breaker snapshot.
func (r *SQLiteRepository) SaveCircuitState(ctx context.Context, snap models.CircuitSnapshot) error {
	query := `
		INSERT INTO circuit_breaker_states (dependency, state, consecutive_failures, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dependency) DO UPDATE SET
			state = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			opened_at = excluded.opened_at,
			updated_at = excluded.updated_at
	`

	var openedAt interface{}
	if snap.OpenedAt != nil {
		openedAt = snap.OpenedAt.UnixNano()
	}

	_, err := r.db.ExecContext(ctx, query, snap.Dependency, snap.State, snap.ConsecutiveFailures, openedAt, snap.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save circuit state: %w", err)
	}
	return nil
}

// ListCircuitStates loads every persisted breaker snapshot.
func (r *SQLiteRepository) ListCircuitStates(ctx context.Context) ([]models.CircuitSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dependency, state, consecutive_failures, opened_at, updated_at FROM circuit_breaker_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to query circuit states: %w", err)
	}
	defer rows.Close()

	var snaps []models.CircuitSnapshot
	for rows.Next() {
		var snap models.CircuitSnapshot
		var openedAt sql.NullInt64
		var updatedAt int64
		if err := rows.Scan(&snap.Dependency, &snap.State, &snap.ConsecutiveFailures, &openedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan circuit state: %w", err)
		}
		if openedAt.Valid {
			t := time.Unix(0, openedAt.Int64)
			snap.OpenedAt = &t
		}
		snap.UpdatedAt = time.Unix(0, updatedAt)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
