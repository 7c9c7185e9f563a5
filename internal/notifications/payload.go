package notifications

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/teleswap/exchange-desk/internal/domain"
)

// MessageType selects the rendering template for a job.
type MessageType string

// Message types.
const (
	MessageTypeOrderCreatedUser    MessageType = "order_created_user"
	MessageTypeOrderCreatedAdmin   MessageType = "order_created_admin"
	MessageTypeOrderStatusUser     MessageType = "order_status_user"
	MessageTypeOrderCompletedUser  MessageType = "order_completed_user"
	MessageTypeOrderCancelledUser  MessageType = "order_cancelled_user"
	MessageTypeOrderCancelledAdmin MessageType = "order_cancelled_admin"
)

// AllMessageTypes lists every declared message type. The renderer must
// produce non-empty output for each of them.
var AllMessageTypes = []MessageType{
	MessageTypeOrderCreatedUser,
	MessageTypeOrderCreatedAdmin,
	MessageTypeOrderStatusUser,
	MessageTypeOrderCompletedUser,
	MessageTypeOrderCancelledUser,
	MessageTypeOrderCancelledAdmin,
}

// Payload contains data for rendering a notification. It is stored as JSON
// alongside the job and is opaque to the queue itself.
type Payload struct {
	Lang        string    `json:"lang,omitempty"` // BCP 47 language tag, empty means default
	Order       OrderData `json:"order"`
	StatusFrom  string    `json:"status_from,omitempty"`
	StatusTo    string    `json:"status_to,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// OrderData contains the order fields the templates need.
type OrderData struct {
	ID           string          `json:"id"`
	Username     string          `json:"username,omitempty"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	AmountFrom   decimal.Decimal `json:"amount_from"`
	AmountTo     decimal.Decimal `json:"amount_to"`
	Rate         decimal.Decimal `json:"rate"`
	Status       string          `json:"status"`
	Comment      string          `json:"comment,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewOrderData converts a domain order into the payload representation.
func NewOrderData(order *domain.Order) OrderData {
	return OrderData{
		ID:           order.ID,
		Username:     order.Username,
		FromCurrency: order.FromCurrency,
		ToCurrency:   order.ToCurrency,
		AmountFrom:   order.AmountFrom,
		AmountTo:     order.AmountTo,
		Rate:         order.Rate,
		Status:       string(order.Status),
		Comment:      order.Comment,
		CreatedAt:    order.CreatedAt,
	}
}

// NewOrderPayload creates a payload for order-created and terminal-state
// notifications.
func NewOrderPayload(order *domain.Order, lang string) Payload {
	return Payload{
		Lang:        lang,
		Order:       NewOrderData(order),
		GeneratedAt: time.Now(),
	}
}

// NewStatusPayload creates a payload for a status-change notification.
func NewStatusPayload(order *domain.Order, from, to domain.OrderStatus, lang string) Payload {
	return Payload{
		Lang:        lang,
		Order:       NewOrderData(order),
		StatusFrom:  string(from),
		StatusTo:    string(to),
		GeneratedAt: time.Now(),
	}
}
