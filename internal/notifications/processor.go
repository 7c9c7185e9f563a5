package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sender performs one delivery attempt. Implementations classify failures
// via the IsRetryable() bool convention; errors without it are treated as
// retryable.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ProcessorConfig contains queue processor configuration.
type ProcessorConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	SendTimeout       time.Duration
	StaleAfter        time.Duration
}

// DefaultProcessorConfig returns default processor configuration.
// Backoff follows base * multiplier^attempt: 10s, 20s, 40s and so on.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:         10,
		PollInterval:      5 * time.Second,
		BackoffBase:       5 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Minute,
		SendTimeout:       15 * time.Second,
		StaleAfter:        5 * time.Minute,
	}
}

// Processor drains the notification queue. Each invocation selects a bounded
// eligible batch, claims it, then fans the jobs out concurrently; every job's
// outcome is settled independently and all work is joined before the
// invocation returns. Only store failures abort an invocation; delivery
// failures are absorbed into per-job retry or dead-letter transitions.
type Processor struct {
	config   ProcessorConfig
	repo     Repository
	sender   Sender
	renderer *Renderer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor creates a new queue processor.
func NewProcessor(config ProcessorConfig, repo Repository, sender Sender, renderer *Renderer) *Processor {
	return &Processor{
		config:   config,
		repo:     repo,
		sender:   sender,
		renderer: renderer,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("starting notification processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval,
	)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop gracefully stops the processor, waiting for in-flight jobs.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	slog.Info("notification processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if n, err := p.repo.ReclaimStale(ctx, p.config.StaleAfter); err != nil {
				slog.Error("failed to reclaim stale jobs", "error", err)
			} else if n > 0 {
				slog.Warn("reclaimed stale processing jobs", "count", n)
			}

			if err := p.ProcessOnce(ctx); err != nil {
				slog.Error("queue invocation failed", "error", err)
			}
		}
	}
}

// ProcessOnce runs a single invocation: select, claim, deliver, settle.
// A store error aborts the invocation; claimed jobs it leaves behind in
// processing are returned to pending by the stale-reclaim sweep.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	jobs, err := p.repo.SelectEligibleBatch(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("select eligible batch: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}

	// Claim before delivery. Only rows still pending move to processing, so
	// an overlapping invocation that selected the same jobs skips the ones
	// it lost.
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}

	recordBatchFetched(len(claimed))
	slog.Debug("processing notification batch", "selected", len(jobs), "claimed", len(claimed))

	var wg sync.WaitGroup
	for _, job := range jobs {
		if !claimed[job.ID] {
			continue
		}
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			p.process(ctx, job)
		}(job)
	}
	wg.Wait()

	return nil
}

func (p *Processor) process(ctx context.Context, job *Job) {
	text := p.renderer.Render(job.MessageType, job.Payload)

	sendCtx, cancel := context.WithTimeout(ctx, p.config.SendTimeout)
	defer cancel()

	start := time.Now()
	err := p.sender.Send(sendCtx, job.RecipientID, text)
	recordSendDuration(time.Since(start))

	if err != nil {
		p.handleSendError(ctx, job, err)
		return
	}

	if markErr := p.repo.MarkSent(ctx, job.ID); markErr != nil {
		slog.Error("failed to mark as sent", "job_id", job.ID, "error", markErr)
		return
	}

	recordJobResult("sent")
	slog.Debug("notification sent",
		"job_id", job.ID,
		"message_type", job.MessageType,
		"duration", time.Since(start),
	)
}

func (p *Processor) handleSendError(ctx context.Context, job *Job, err error) {
	newAttempts := job.Attempts + 1

	slog.Warn("send failed",
		"job_id", job.ID,
		"attempt", newAttempts,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	// Permanent rejections (blocked bot, unknown chat) will never succeed;
	// dead-letter immediately instead of burning the remaining attempts.
	if !isRetryable(err) {
		if markErr := p.repo.MarkDeadLetter(ctx, job.ID, err); markErr != nil {
			slog.Error("failed to mark as dead letter", "job_id", job.ID, "error", markErr)
		}
		recordJobResult("dead_letter")
		return
	}

	if newAttempts >= job.MaxAttempts {
		if markErr := p.repo.MarkDeadLetter(ctx, job.ID, fmt.Errorf("max attempts exceeded: %w", err)); markErr != nil {
			slog.Error("failed to mark as dead letter", "job_id", job.ID, "error", markErr)
		}
		recordJobResult("dead_letter")
		return
	}

	nextRetryAt := time.Now().Add(p.backoff(newAttempts))
	if markErr := p.repo.MarkRetry(ctx, job.ID, err, nextRetryAt); markErr != nil {
		slog.Error("failed to mark for retry", "job_id", job.ID, "error", markErr)
	}
	recordJobResult("retry")

	slog.Info("notification scheduled for retry",
		"job_id", job.ID,
		"attempt", newAttempts,
		"next_retry_at", nextRetryAt,
	)
}

// backoff returns the delay before the given attempt's retry:
// base * multiplier^attempt, capped at MaxBackoff.
func (p *Processor) backoff(attempt int) time.Duration {
	delay := float64(p.config.BackoffBase)
	for i := 0; i < attempt; i++ {
		delay *= p.config.BackoffMultiplier
	}

	if delay > float64(p.config.MaxBackoff) {
		delay = float64(p.config.MaxBackoff)
	}

	return time.Duration(delay)
}

// isRetryable checks if an error is retryable. Unclassified errors default
// to retryable so unknown failure modes are not silently dropped.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	return true
}
