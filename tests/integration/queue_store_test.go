//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleswap/exchange-desk/internal/notifications"
	notificationspostgres "github.com/teleswap/exchange-desk/internal/notifications/postgres"
)

func newQueueRepo() *notificationspostgres.Repository {
	return notificationspostgres.NewRepository(testDB)
}

func newQueueJob(priority notifications.Priority) *notifications.Job {
	return &notifications.Job{
		ID:          uuid.New().String(),
		RecipientID: 100,
		MessageType: notifications.MessageTypeOrderCreatedUser,
		Priority:    priority,
		MaxAttempts: 3,
		Payload: notifications.Payload{
			Lang: "en",
			Order: notifications.OrderData{
				ID:           uuid.New().String(),
				FromCurrency: "USDT",
				ToCurrency:   "RUB",
			},
		},
	}
}

func TestQueueEnqueueDefaults(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityHigh)
	require.NoError(t, repo.Enqueue(ctx, job))

	assert.Equal(t, notifications.StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestQueueSelectEligibleOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	low := newQueueJob(notifications.PriorityLow)
	require.NoError(t, repo.Enqueue(ctx, low))

	// Inserted later but higher priority; must be returned first.
	high := newQueueJob(notifications.PriorityHigh)
	require.NoError(t, repo.Enqueue(ctx, high))

	batch, err := repo.SelectEligibleBatch(ctx, 100)
	require.NoError(t, err)

	positions := make(map[string]int)
	for i, job := range batch {
		positions[job.ID] = i
	}
	require.Contains(t, positions, high.ID)
	require.Contains(t, positions, low.ID)
	assert.Less(t, positions[high.ID], positions[low.ID],
		"high priority job ordered before older low priority job")

	// Claim them so later tests see a clean pending set.
	_, err = repo.MarkProcessing(ctx, []string{low.ID, high.ID})
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, low.ID))
	require.NoError(t, repo.MarkSent(ctx, high.ID))
}

func TestQueueSelectEligibleSkipsFutureRetry(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityHigh)
	require.NoError(t, repo.Enqueue(ctx, job))

	claimed, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)
	require.True(t, claimed[job.ID])
	require.NoError(t, repo.MarkRetry(ctx, job.ID, errors.New("transient"), time.Now().Add(time.Hour)))

	batch, err := repo.SelectEligibleBatch(ctx, 100)
	require.NoError(t, err)
	for _, got := range batch {
		assert.NotEqual(t, job.ID, got.ID, "job with future next_retry_at must not be selected")
	}
}

func TestQueueSelectEligibleHonorsLimit(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Enqueue(ctx, newQueueJob(notifications.PriorityNormal)))
	}

	batch, err := repo.SelectEligibleBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestQueueClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityHigh)
	require.NoError(t, repo.Enqueue(ctx, job))

	first, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)
	assert.True(t, first[job.ID])

	// A second claim on the same id loses: the row is no longer pending.
	second, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)
	assert.False(t, second[job.ID])
}

func TestQueueRetryIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityNormal)
	require.NoError(t, repo.Enqueue(ctx, job))

	_, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)

	nextRetry := time.Now().Add(10 * time.Second)
	require.NoError(t, repo.MarkRetry(ctx, job.ID, errors.New("connection reset"), nextRetry))

	stored := fetchJob(t, job.ID)
	assert.Equal(t, notifications.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "connection reset", stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, nextRetry, *stored.NextRetryAt, time.Second)
}

func TestQueueDeadLetterAndRequeue(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityNormal)
	require.NoError(t, repo.Enqueue(ctx, job))

	_, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)
	require.NoError(t, repo.MarkDeadLetter(ctx, job.ID, errors.New("max attempts exceeded")))

	stored := fetchJob(t, job.ID)
	assert.Equal(t, notifications.StatusDeadLetter, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	deadLetters, err := repo.ListDeadLetters(ctx, 100)
	require.NoError(t, err)
	found := false
	for _, dl := range deadLetters {
		if dl.ID == job.ID {
			found = true
		}
	}
	assert.True(t, found, "dead-lettered job appears in the listing")

	require.NoError(t, repo.RequeueDeadLetter(ctx, job.ID))
	stored = fetchJob(t, job.ID)
	assert.Equal(t, notifications.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)
}

func TestQueueRequeueRejectsNonDeadLettered(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityNormal)
	require.NoError(t, repo.Enqueue(ctx, job))

	err := repo.RequeueDeadLetter(ctx, job.ID)
	assert.ErrorIs(t, err, notifications.ErrJobNotDeadLettered)

	err = repo.RequeueDeadLetter(ctx, uuid.New().String())
	assert.ErrorIs(t, err, notifications.ErrJobNotFound)
}

func TestQueueMarkSentRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityNormal)
	require.NoError(t, repo.Enqueue(ctx, job))

	// Still pending: the conditional update must not apply.
	err := repo.MarkSent(ctx, job.ID)
	assert.ErrorIs(t, err, notifications.ErrJobNotFound)
}

func TestQueueReclaimStale(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	job := newQueueJob(notifications.PriorityNormal)
	require.NoError(t, repo.Enqueue(ctx, job))

	_, err := repo.MarkProcessing(ctx, []string{job.ID})
	require.NoError(t, err)

	// Backdate the claim to simulate a crashed invocation.
	_, err = testDB.Exec(ctx,
		`UPDATE notification_queue SET updated_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`,
		job.ID)
	require.NoError(t, err)

	reclaimed, err := repo.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reclaimed, int64(1))

	stored := fetchJob(t, job.ID)
	assert.Equal(t, notifications.StatusPending, stored.Status)
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo()

	before, err := repo.GetQueueStats(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Enqueue(ctx, newQueueJob(notifications.PriorityLow)))

	after, err := repo.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Pending+1, after.Pending)
}

// fetchJob reads a job row directly for assertions.
func fetchJob(t *testing.T, id string) *notifications.Job {
	t.Helper()

	var job notifications.Job
	err := testDB.QueryRow(context.Background(),
		`SELECT id, status, attempts, max_attempts, next_retry_at, last_error
		 FROM notification_queue WHERE id = $1`, id).
		Scan(&job.ID, &job.Status, &job.Attempts, &job.MaxAttempts, &job.NextRetryAt, &job.LastError)
	require.NoError(t, err)
	return &job
}
