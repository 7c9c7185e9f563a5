package notifications

import (
	"time"
)

// JobStatus represents the delivery state of a queued notification.
type JobStatus string

// Job statuses.
const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusSent       JobStatus = "sent"
	StatusDeadLetter JobStatus = "dead_letter"
)

// Priority orders jobs within the queue. Higher priorities are serviced first;
// within a priority band jobs are serviced oldest first.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Job is one queued notification awaiting delivery to a telegram chat.
type Job struct {
	ID          string
	RecipientID int64 // telegram chat id
	MessageType MessageType
	Payload     Payload
	Priority    Priority
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	NextRetryAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      *time.Time
}

// QueueStats holds queue depth counters by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	DeadLetter int64 `json:"dead_letter"`
}
