package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/teleswap/exchange-desk/internal/domain"
)

const defaultMaxAttempts = 5

// ServiceConfig contains enqueuer configuration.
type ServiceConfig struct {
	MaxAttempts  int
	AdminChatIDs []int64
	AdminLang    string
}

// Service is the public enqueue interface of the pipeline. Order-mutation
// collaborators call it to append jobs; it never delivers anything itself.
type Service struct {
	repo   Repository
	config ServiceConfig
}

// NewService creates a new notifications service.
func NewService(repo Repository, config ServiceConfig) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.AdminLang == "" {
		config.AdminLang = "en"
	}
	return &Service{repo: repo, config: config}
}

// EnqueueInput contains data for a single job.
type EnqueueInput struct {
	RecipientID int64
	MessageType MessageType
	Payload     Payload
	Priority    Priority
	MaxAttempts int // 0 means the configured default
}

// Enqueue appends one job to the queue and returns its id.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (string, error) {
	job, err := s.buildJob(input)
	if err != nil {
		return "", err
	}

	if err := s.repo.Enqueue(ctx, job); err != nil {
		return "", err
	}

	slog.Debug("notification enqueued",
		"job_id", job.ID,
		"message_type", job.MessageType,
		"priority", job.Priority,
	)
	return job.ID, nil
}

// NotifyOrderCreated enqueues the order-created notifications: one high
// priority message to the owner and one normal priority message per admin
// chat.
func (s *Service) NotifyOrderCreated(ctx context.Context, order *domain.Order, lang string) error {
	inputs := []EnqueueInput{{
		RecipientID: order.UserID,
		MessageType: MessageTypeOrderCreatedUser,
		Payload:     NewOrderPayload(order, lang),
		Priority:    PriorityHigh,
	}}

	for _, chatID := range s.config.AdminChatIDs {
		inputs = append(inputs, EnqueueInput{
			RecipientID: chatID,
			MessageType: MessageTypeOrderCreatedAdmin,
			Payload:     NewOrderPayload(order, s.config.AdminLang),
			Priority:    PriorityNormal,
		})
	}

	return s.enqueueAll(ctx, inputs)
}

// NotifyOrderStatusChanged enqueues notifications for a status transition.
// Terminal transitions use their dedicated message types; cancellations also
// fan out to admin chats at low priority.
func (s *Service) NotifyOrderStatusChanged(ctx context.Context, order *domain.Order, from, to domain.OrderStatus, lang string) error {
	var inputs []EnqueueInput

	switch to {
	case domain.OrderStatusCompleted:
		inputs = append(inputs, EnqueueInput{
			RecipientID: order.UserID,
			MessageType: MessageTypeOrderCompletedUser,
			Payload:     NewOrderPayload(order, lang),
			Priority:    PriorityHigh,
		})
	case domain.OrderStatusCancelled:
		inputs = append(inputs, EnqueueInput{
			RecipientID: order.UserID,
			MessageType: MessageTypeOrderCancelledUser,
			Payload:     NewOrderPayload(order, lang),
			Priority:    PriorityHigh,
		})
		for _, chatID := range s.config.AdminChatIDs {
			inputs = append(inputs, EnqueueInput{
				RecipientID: chatID,
				MessageType: MessageTypeOrderCancelledAdmin,
				Payload:     NewOrderPayload(order, s.config.AdminLang),
				Priority:    PriorityLow,
			})
		}
	default:
		inputs = append(inputs, EnqueueInput{
			RecipientID: order.UserID,
			MessageType: MessageTypeOrderStatusUser,
			Payload:     NewStatusPayload(order, from, to, lang),
			Priority:    PriorityHigh,
		})
	}

	return s.enqueueAll(ctx, inputs)
}

func (s *Service) enqueueAll(ctx context.Context, inputs []EnqueueInput) error {
	jobs := make([]*Job, 0, len(inputs))
	for _, input := range inputs {
		job, err := s.buildJob(input)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	if err := s.repo.EnqueueBatch(ctx, jobs); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	return nil
}

func (s *Service) buildJob(input EnqueueInput) (*Job, error) {
	if !input.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, input.Priority)
	}
	if !validMessageType(input.MessageType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, input.MessageType)
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.config.MaxAttempts
	}

	return &Job{
		ID:          uuid.New().String(),
		RecipientID: input.RecipientID,
		MessageType: input.MessageType,
		Payload:     input.Payload,
		Priority:    input.Priority,
		MaxAttempts: maxAttempts,
	}, nil
}

func validMessageType(mt MessageType) bool {
	for _, known := range AllMessageTypes {
		if mt == known {
			return true
		}
	}
	return false
}

// QueueStats returns queue depth counters by status.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	return s.repo.GetQueueStats(ctx)
}

// ListDeadLetters returns dead-lettered jobs for operator inspection.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListDeadLetters(ctx, limit)
}

// RequeueDeadLetter returns a dead-lettered job to the queue.
func (s *Service) RequeueDeadLetter(ctx context.Context, id string) error {
	return s.repo.RequeueDeadLetter(ctx, id)
}
