package orders

import (
	"context"

	"github.com/teleswap/exchange-desk/internal/domain"
)

// ListFilter narrows order listings.
type ListFilter struct {
	UserID *int64
	Status *domain.OrderStatus
	Limit  int
	Offset int
}

// Repository defines storage operations for orders.
type Repository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
	// UpdateOrderStatus applies the transition only if the stored status
	// still equals from; returns ErrOrderNotFound otherwise.
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) (*domain.Order, error)
}
