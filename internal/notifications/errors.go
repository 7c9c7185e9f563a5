package notifications

import "errors"

// Repository errors.
var (
	ErrJobNotFound        = errors.New("notification job not found")
	ErrJobNotDeadLettered = errors.New("job is not in dead_letter status")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrInvalidMessageType = errors.New("invalid message type")
)
