// Package orders implements exchange order management: creation with a
// rate snapshot, listing, and the admin status workflow. Every mutation
// enqueues notifications through the queue's public interface; delivery
// failures never fail the mutation.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/teleswap/exchange-desk/internal/domain"
	"github.com/teleswap/exchange-desk/internal/pkg/ctxlog"
	"github.com/teleswap/exchange-desk/internal/rates"
)

// RateSource provides the current exchange rate for a currency pair.
type RateSource interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Notifier enqueues notifications for order events.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, order *domain.Order, lang string) error
	NotifyOrderStatusChanged(ctx context.Context, order *domain.Order, from, to domain.OrderStatus, lang string) error
}

// UserSource resolves user profiles; used to localize notifications for
// the order owner on admin-driven transitions.
type UserSource interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// Service implements order business logic.
type Service struct {
	repo     Repository
	rates    RateSource
	notifier Notifier
	users    UserSource
}

// NewService creates a new orders service. The notifier may be nil when
// notifications are disabled.
func NewService(repo Repository, rates RateSource, notifier Notifier, users UserSource) *Service {
	return &Service{
		repo:     repo,
		rates:    rates,
		notifier: notifier,
		users:    users,
	}
}

// CreateInput contains data for creating an order.
type CreateInput struct {
	UserID       int64
	FromCurrency string
	ToCurrency   string
	AmountFrom   decimal.Decimal
	Comment      string
}

// Create validates the input, snapshots the current rate, and persists
// the order. The converted amount is fixed at creation time.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Order, error) {
	from := strings.ToUpper(strings.TrimSpace(input.FromCurrency))
	to := strings.ToUpper(strings.TrimSpace(input.ToCurrency))

	rate, err := s.rates.GetRate(ctx, from, to)
	if err != nil {
		if errors.Is(err, rates.ErrPairUnavailable) {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, from, to)
		}
		return nil, fmt.Errorf("get rate for %s/%s: %w", from, to, err)
	}

	username, lang := s.ownerProfile(ctx, input.UserID)

	now := time.Now()
	order := &domain.Order{
		ID:           uuid.New().String(),
		UserID:       input.UserID,
		Username:     username,
		FromCurrency: from,
		ToCurrency:   to,
		AmountFrom:   input.AmountFrom,
		AmountTo:     input.AmountFrom.Mul(rate),
		Rate:         rate,
		Status:       domain.OrderStatusNew,
		Comment:      input.Comment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.notifyCreated(ctx, order, lang)

	return order, nil
}

// ownerProfile resolves the caller's stored username and language.
func (s *Service) ownerProfile(ctx context.Context, userID int64) (username, lang string) {
	lang = "en"
	if s.users == nil {
		return "", lang
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", lang
	}
	if user.LanguageCode != "" {
		lang = user.LanguageCode
	}
	return user.Username, lang
}

// Get returns an order by id. Non-admin callers can only see their own.
func (s *Service) Get(ctx context.Context, id string, userID int64, role domain.Role) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if role != domain.RoleAdmin && order.UserID != userID {
		return nil, ErrForbidden
	}

	return order, nil
}

// ListForUser returns the caller's own orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Order, error) {
	return s.repo.ListOrders(ctx, ListFilter{
		UserID: &userID,
		Limit:  limit,
		Offset: offset,
	})
}

// ListAll returns orders across all users, optionally filtered by status.
func (s *Service) ListAll(ctx context.Context, status *domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	return s.repo.ListOrders(ctx, ListFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

// UpdateStatus moves an order to the next status. The transition is
// validated against the workflow and applied with a conditional update
// so concurrent admins cannot double-apply it.
func (s *Service) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}

	_, lang := s.ownerProfile(ctx, updated.UserID)
	s.notifyStatusChanged(ctx, updated, from, to, lang)

	return updated, nil
}

func (s *Service) notifyCreated(ctx context.Context, order *domain.Order, lang string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderCreated(ctx, order, lang); err != nil {
		ctxlog.FromContext(ctx).Error("enqueue order created notifications",
			"order_id", order.ID, "error", err)
	}
}

func (s *Service) notifyStatusChanged(ctx context.Context, order *domain.Order, from, to domain.OrderStatus, lang string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderStatusChanged(ctx, order, from, to, lang); err != nil {
		ctxlog.FromContext(ctx).Error("enqueue status change notifications",
			"order_id", order.ID, "from", from, "to", to, "error", err)
	}
}
