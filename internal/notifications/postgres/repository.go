// Package postgres provides the PostgreSQL implementation of the
// notification queue store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teleswap/exchange-desk/internal/notifications"
)

// jobColumns is the scan list shared by every query returning full jobs.
const jobColumns = `id, recipient_id, message_type, payload, priority, status,
	attempts, max_attempts, next_retry_at, last_error, created_at, updated_at, sent_at`

// Repository implements notifications.Repository using PostgreSQL. All
// mutations are single-row conditional updates keyed on the current status,
// which makes every transition atomic under concurrent processor runs.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new pending job.
func (r *Repository) Enqueue(ctx context.Context, job *notifications.Job) error {
	query := `
		INSERT INTO notification_queue (id, recipient_id, message_type, payload, priority, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING status, attempts, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.RecipientID,
		job.MessageType,
		job.Payload,
		job.Priority,
		job.MaxAttempts,
	).Scan(&job.Status, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// EnqueueBatch inserts several jobs in one round trip.
func (r *Repository) EnqueueBatch(ctx context.Context, jobs []*notifications.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notification_queue (id, recipient_id, message_type, payload, priority, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, job := range jobs {
		batch.Queue(query,
			job.ID,
			job.RecipientID,
			job.MessageType,
			job.Payload,
			job.Priority,
			job.MaxAttempts,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range jobs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("enqueue batch: %w", err)
		}
	}
	return nil
}

// SelectEligibleBatch returns up to limit pending jobs eligible for delivery,
// highest priority first, oldest first within a priority band. Read-only.
func (r *Repository) SelectEligibleBatch(ctx context.Context, limit int) ([]*notifications.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_queue
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY
			CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
			created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select eligible batch: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkProcessing claims jobs by moving them from pending to processing.
// Rows no longer pending are left alone; the returned set holds the ids
// actually claimed.
func (r *Repository) MarkProcessing(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query := `
		UPDATE notification_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status = 'pending'
		RETURNING id
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	defer rows.Close()

	claimed := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		claimed[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mark processing rows: %w", err)
	}

	return claimed, nil
}

// MarkSent transitions a processing job to the terminal sent status.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotFound
	}
	return nil
}

// MarkRetry increments attempts and returns the job to pending with the
// given next eligibility time.
func (r *Repository) MarkRetry(ctx context.Context, id string, cause error, nextRetryAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = attempts + 1,
		    next_retry_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, nextRetryAt, errorText(cause))
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotFound
	}
	return nil
}

// MarkDeadLetter increments attempts and transitions the job to the terminal
// dead_letter status.
func (r *Repository) MarkDeadLetter(ctx context.Context, id string, cause error) error {
	query := `
		UPDATE notification_queue
		SET status = 'dead_letter', attempts = attempts + 1,
		    last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.Exec(ctx, query, id, errorText(cause))
	if err != nil {
		return fmt.Errorf("mark dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrJobNotFound
	}
	return nil
}

// ReclaimStale returns jobs stuck in processing longer than staleAfter back
// to pending.
func (r *Repository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListDeadLetters returns dead-lettered jobs, most recently failed first.
func (r *Repository) ListDeadLetters(ctx context.Context, limit int) ([]*notifications.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_queue
		WHERE status = 'dead_letter'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// RequeueDeadLetter resets a dead-lettered job to pending with fresh
// attempts.
func (r *Repository) RequeueDeadLetter(ctx context.Context, id string) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = 0, next_retry_at = NULL,
		    last_error = '', updated_at = NOW()
		WHERE id = $1 AND status = 'dead_letter'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("requeue dead letter: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var status notifications.JobStatus
	err = r.db.QueryRow(ctx, `SELECT status FROM notification_queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return notifications.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	return notifications.ErrJobNotDeadLettered
}

// GetQueueStats returns queue depth counters by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status notifications.JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case notifications.StatusPending:
			stats.Pending = count
		case notifications.StatusProcessing:
			stats.Processing = count
		case notifications.StatusSent:
			stats.Sent = count
		case notifications.StatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue stats rows: %w", err)
	}

	return stats, nil
}

func scanJobs(rows pgx.Rows) ([]*notifications.Job, error) {
	jobs := make([]*notifications.Job, 0)
	for rows.Next() {
		var job notifications.Job
		err := rows.Scan(
			&job.ID,
			&job.RecipientID,
			&job.MessageType,
			&job.Payload,
			&job.Priority,
			&job.Status,
			&job.Attempts,
			&job.MaxAttempts,
			&job.NextRetryAt,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
			&job.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows: %w", err)
	}
	return jobs, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
