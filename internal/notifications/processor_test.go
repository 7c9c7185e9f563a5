package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory queue store for processor tests. It mirrors the
// conditional-update semantics of the real store: transitions only apply
// when the row is in the expected status.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*Job

	// unclaimable ids are left out of the MarkProcessing result, simulating
	// a concurrent invocation winning the claim.
	unclaimable map[string]bool

	selectErr error
	claimErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:        make(map[string]*Job),
		unclaimable: make(map[string]bool),
	}
}

func (f *fakeRepo) add(job *Job) *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeRepo) get(id string) *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeRepo) Enqueue(_ context.Context, job *Job) error {
	f.add(job)
	return nil
}

func (f *fakeRepo) EnqueueBatch(_ context.Context, jobs []*Job) error {
	for _, job := range jobs {
		f.add(job)
	}
	return nil
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

func (f *fakeRepo) SelectEligibleBatch(_ context.Context, limit int) ([]*Job, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var eligible []*Job
	for _, job := range f.jobs {
		if job.Status != StatusPending {
			continue
		}
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, job)
	}

	sort.Slice(eligible, func(i, j int) bool {
		pi, pj := priorityRank(eligible[i].Priority), priorityRank(eligible[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (f *fakeRepo) MarkProcessing(_ context.Context, ids []string) (map[string]bool, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	claimed := make(map[string]bool)
	for _, id := range ids {
		if f.unclaimable[id] {
			continue
		}
		job, ok := f.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		job.Status = StatusProcessing
		claimed[id] = true
	}
	return claimed, nil
}

func (f *fakeRepo) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return ErrJobNotFound
	}
	job.Status = StatusSent
	now := time.Now()
	job.SentAt = &now
	return nil
}

func (f *fakeRepo) MarkRetry(_ context.Context, id string, cause error, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	job.Attempts++
	job.NextRetryAt = &nextRetryAt
	job.LastError = cause.Error()
	return nil
}

func (f *fakeRepo) MarkDeadLetter(_ context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return ErrJobNotFound
	}
	job.Status = StatusDeadLetter
	job.Attempts++
	job.LastError = cause.Error()
	return nil
}

func (f *fakeRepo) ReclaimStale(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) ListDeadLetters(_ context.Context, _ int) ([]*Job, error) {
	return nil, nil
}

func (f *fakeRepo) RequeueDeadLetter(_ context.Context, _ string) error {
	return nil
}

func (f *fakeRepo) GetQueueStats(_ context.Context) (*QueueStats, error) {
	return &QueueStats{}, nil
}

// stubSender records calls and returns scripted errors.
type stubSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

type sentCall struct {
	chatID int64
	text   string
}

func (s *stubSender) Send(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentCall{chatID: chatID, text: text})
	return s.err
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type permanentSendError struct{ msg string }

func (e *permanentSendError) Error() string     { return e.msg }
func (e *permanentSendError) IsRetryable() bool { return false }

func newTestProcessor(t *testing.T, repo Repository, sender Sender) *Processor {
	t.Helper()
	renderer, err := NewRenderer()
	require.NoError(t, err)

	config := DefaultProcessorConfig()
	config.BatchSize = 10
	return NewProcessor(config, repo, sender, renderer)
}

func testJob(priority Priority, msgType MessageType) *Job {
	return &Job{
		RecipientID: 100,
		MessageType: msgType,
		Priority:    priority,
		MaxAttempts: 3,
		Payload: Payload{
			Lang: "en",
			Order: OrderData{
				ID:           uuid.New().String(),
				FromCurrency: "USDT",
				ToCurrency:   "RUB",
			},
		},
	}
}

func TestProcessOnceDeliversAndMarksSent(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	job := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedUser))

	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Equal(t, StatusSent, repo.get(job.ID).Status)
	require.Equal(t, 1, sender.callCount())
	assert.Equal(t, int64(100), sender.calls[0].chatID)
	assert.Contains(t, sender.calls[0].text, job.Payload.Order.ID[:8],
		"rendered text must reference the order")
	assert.NotNil(t, repo.get(job.ID).SentAt)
}

func TestProcessOnceEmptyQueue(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	require.NoError(t, processor.ProcessOnce(context.Background()))
	assert.Zero(t, sender.callCount())
}

func TestProcessOnceSchedulesRetryWithBackoff(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{err: errors.New("connection reset")}
	processor := newTestProcessor(t, repo, sender)

	job := repo.add(testJob(PriorityNormal, MessageTypeOrderCreatedUser))

	before := time.Now()
	require.NoError(t, processor.ProcessOnce(context.Background()))

	got := repo.get(job.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "connection reset", got.LastError)

	// First failure reschedules 10s out: 5s * 2^1.
	require.NotNil(t, got.NextRetryAt)
	delay := got.NextRetryAt.Sub(before)
	assert.InDelta(t, float64(10*time.Second), float64(delay), float64(time.Second))
}

func TestProcessOnceSkipsFutureRetries(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	future := time.Now().Add(time.Hour)
	job := testJob(PriorityHigh, MessageTypeOrderCreatedUser)
	job.NextRetryAt = &future
	repo.add(job)

	require.NoError(t, processor.ProcessOnce(context.Background()))
	assert.Zero(t, sender.callCount())
	assert.Equal(t, StatusPending, repo.get(job.ID).Status)
}

func TestProcessOnceDeadLettersAtMaxAttempts(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{err: errors.New("still failing")}
	processor := newTestProcessor(t, repo, sender)

	job := testJob(PriorityNormal, MessageTypeOrderCreatedUser)
	job.Attempts = 2 // one attempt left of three
	repo.add(job)

	require.NoError(t, processor.ProcessOnce(context.Background()))

	got := repo.get(job.ID)
	assert.Equal(t, StatusDeadLetter, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "max attempts exceeded")
}

func TestProcessOnceDeadLettersPermanentErrorImmediately(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{err: &permanentSendError{msg: "chat not found"}}
	processor := newTestProcessor(t, repo, sender)

	job := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedUser))

	require.NoError(t, processor.ProcessOnce(context.Background()))

	got := repo.get(job.ID)
	assert.Equal(t, StatusDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts, "permanent failures do not burn remaining attempts")
}

func TestProcessOnceSkipsLostClaims(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	won := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedUser))
	lost := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedAdmin))
	repo.unclaimable[lost.ID] = true

	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, StatusSent, repo.get(won.ID).Status)
	assert.Equal(t, StatusPending, repo.get(lost.ID).Status)
}

func TestProcessOnceSettlesJobsIndependently(t *testing.T) {
	repo := newFakeRepo()
	// Fail only the admin broadcast.
	sender := &selectiveSender{failFor: 200}
	processor := newTestProcessor(t, repo, sender)

	userJob := testJob(PriorityHigh, MessageTypeOrderCreatedUser)
	userJob.RecipientID = 100
	repo.add(userJob)

	adminJob := testJob(PriorityNormal, MessageTypeOrderCreatedAdmin)
	adminJob.RecipientID = 200
	repo.add(adminJob)

	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Equal(t, StatusSent, repo.get(userJob.ID).Status)
	assert.Equal(t, StatusPending, repo.get(adminJob.ID).Status)
	assert.Equal(t, 1, repo.get(adminJob.ID).Attempts)
}

// selectiveSender fails deliveries to a single chat id.
type selectiveSender struct {
	mu      sync.Mutex
	failFor int64
	calls   int
}

func (s *selectiveSender) Send(_ context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if chatID == s.failFor {
		return errors.New("timeout")
	}
	return nil
}

func TestProcessOnceNoJobProcessedTwice(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	first := repo.add(testJob(PriorityNormal, MessageTypeOrderCreatedUser))
	second := repo.add(testJob(PriorityNormal, MessageTypeOrderStatusUser))

	require.NoError(t, processor.ProcessOnce(context.Background()))
	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Equal(t, StatusSent, repo.get(first.ID).Status)
	assert.Equal(t, StatusSent, repo.get(second.ID).Status)
	assert.Equal(t, 2, sender.callCount(), "each job delivered exactly once")
}

func TestProcessOnceHonorsBatchLimit(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}

	renderer, err := NewRenderer()
	require.NoError(t, err)
	config := DefaultProcessorConfig()
	config.BatchSize = 2
	processor := NewProcessor(config, repo, sender, renderer)

	for i := 0; i < 5; i++ {
		repo.add(testJob(PriorityNormal, MessageTypeOrderCreatedUser))
	}

	require.NoError(t, processor.ProcessOnce(context.Background()))
	assert.Equal(t, 2, sender.callCount())
}

func TestProcessOncePriorityBeforeAge(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}

	renderer, err := NewRenderer()
	require.NoError(t, err)
	config := DefaultProcessorConfig()
	config.BatchSize = 1
	processor := NewProcessor(config, repo, sender, renderer)

	older := testJob(PriorityLow, MessageTypeOrderCreatedAdmin)
	older.CreatedAt = time.Now().Add(-time.Hour)
	repo.add(older)

	newer := testJob(PriorityHigh, MessageTypeOrderCreatedUser)
	repo.add(newer)

	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Equal(t, StatusSent, repo.get(newer.ID).Status,
		"high priority job is serviced before an older low priority one")
	assert.Equal(t, StatusPending, repo.get(older.ID).Status)
}

func TestProcessOnceAbortsOnStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.selectErr = errors.New("db down")
	processor := newTestProcessor(t, repo, &stubSender{})

	err := processor.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select eligible batch")
}

func TestProcessOnceAbortsOnClaimError(t *testing.T) {
	repo := newFakeRepo()
	repo.add(testJob(PriorityNormal, MessageTypeOrderCreatedUser))
	repo.claimErr = errors.New("db down")
	sender := &stubSender{}
	processor := newTestProcessor(t, repo, sender)

	err := processor.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim batch")
	assert.Zero(t, sender.callCount())
}

func TestBackoffProgression(t *testing.T) {
	config := DefaultProcessorConfig()
	p := NewProcessor(config, newFakeRepo(), &stubSender{}, nil)

	assert.Equal(t, 10*time.Second, p.backoff(1))
	assert.Equal(t, 20*time.Second, p.backoff(2))
	assert.Equal(t, 40*time.Second, p.backoff(3))
}

func TestBackoffCapped(t *testing.T) {
	config := DefaultProcessorConfig()
	config.MaxBackoff = time.Minute
	p := NewProcessor(config, newFakeRepo(), &stubSender{}, nil)

	assert.Equal(t, time.Minute, p.backoff(10))
}

func TestStartStop(t *testing.T) {
	repo := newFakeRepo()
	sender := &stubSender{}

	renderer, err := NewRenderer()
	require.NoError(t, err)
	config := DefaultProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor := NewProcessor(config, repo, sender, renderer)

	job := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedUser))

	processor.Start(context.Background())

	require.Eventually(t, func() bool {
		return repo.get(job.ID).Status == StatusSent
	}, time.Second, 10*time.Millisecond)

	processor.Stop()
}

// gateSender blocks each delivery until released.
type gateSender struct {
	stubSender
	release chan struct{}
}

func (s *gateSender) Send(ctx context.Context, chatID int64, text string) error {
	<-s.release
	return s.stubSender.Send(ctx, chatID, text)
}

func TestStopWaitsForInFlightDelivery(t *testing.T) {
	repo := newFakeRepo()
	sender := &gateSender{release: make(chan struct{})}

	renderer, err := NewRenderer()
	require.NoError(t, err)
	config := DefaultProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor := NewProcessor(config, repo, sender, renderer)

	job := repo.add(testJob(PriorityHigh, MessageTypeOrderCreatedUser))

	processor.Start(context.Background())

	require.Eventually(t, func() bool {
		return repo.get(job.ID).Status == StatusProcessing
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		processor.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the delivery completed")
	}

	assert.Equal(t, StatusSent, repo.get(job.ID).Status,
		"in-flight job settles instead of parking in processing")
}
