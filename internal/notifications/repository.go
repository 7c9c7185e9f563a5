// Package notifications implements the durable notification delivery
// pipeline: a per-row state machine in the queue store drained by a
// concurrent processor with retry, exponential backoff and dead-lettering.
package notifications

import (
	"context"
	"time"
)

// Repository is the queue store contract. It is the single shared mutable
// resource of the pipeline; every mutation is an atomic per-row conditional
// update keyed on the current status, so concurrent processor invocations
// can never produce lost updates.
type Repository interface {
	// Enqueue inserts a new job in pending status with zero attempts.
	Enqueue(ctx context.Context, job *Job) error

	// EnqueueBatch inserts several jobs in one round trip.
	EnqueueBatch(ctx context.Context, jobs []*Job) error

	// SelectEligibleBatch returns up to limit pending jobs whose
	// next_retry_at is unset or has passed, ordered by priority descending
	// then created_at ascending. Read-only.
	SelectEligibleBatch(ctx context.Context, limit int) ([]*Job, error)

	// MarkProcessing claims the given jobs by transitioning them from
	// pending to processing. Only rows still in pending move; the returned
	// set contains the ids actually claimed, so an overlapping invocation
	// that lost the race simply skips the job.
	MarkProcessing(ctx context.Context, ids []string) (map[string]bool, error)

	// MarkSent transitions a processing job to the terminal sent status.
	MarkSent(ctx context.Context, id string) error

	// MarkRetry increments attempts and returns the job to pending with the
	// given next_retry_at.
	MarkRetry(ctx context.Context, id string, cause error, nextRetryAt time.Time) error

	// MarkDeadLetter increments attempts and transitions the job to the
	// terminal dead_letter status.
	MarkDeadLetter(ctx context.Context, id string, cause error) error

	// ReclaimStale returns jobs stuck in processing longer than staleAfter
	// back to pending and reports how many rows moved. Crash recovery for
	// invocations that died mid-batch.
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)

	// ListDeadLetters returns dead-lettered jobs, newest first, for
	// operator inspection.
	ListDeadLetters(ctx context.Context, limit int) ([]*Job, error)

	// RequeueDeadLetter resets a dead-lettered job to pending with zero
	// attempts.
	RequeueDeadLetter(ctx context.Context, id string) error

	// GetQueueStats returns queue depth counters by status.
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}
