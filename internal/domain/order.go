// Package domain contains core business entities shared across modules.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an exchange order.
type OrderStatus string

// Order statuses.
const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo reports whether a transition to the given status is valid.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case OrderStatusConfirmed:
		return s == OrderStatusNew
	case OrderStatusProcessing:
		return s == OrderStatusConfirmed
	case OrderStatusCompleted:
		return s == OrderStatusProcessing
	case OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order is a currency-exchange order placed through the mini-app.
type Order struct {
	ID           string
	UserID       int64 // telegram chat id of the owner
	Username     string
	FromCurrency string
	ToCurrency   string
	AmountFrom   decimal.Decimal
	AmountTo     decimal.Decimal
	Rate         decimal.Decimal
	Status       OrderStatus
	Comment      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
