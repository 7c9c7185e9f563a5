package orders

import "errors"

// Sentinel errors for the orders module.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnsupportedPair   = errors.New("unsupported currency pair")
)
