package models

import "time"

const (
	EventEnqueued = "queue.enqueued"
	EventServed   = "queue.served"
	EventDequeued = "queue.dequeued"
	EventClosed   = "queue.closed"
)

// Event describes a committed change to a queue's state.
type Event struct {
	Type         string    `json:"type"`
	QueueID      string    `json:"queue_id"`
	BranchID     string    `json:"branch_id"`
	QueueName    string    `json:"queue_name,omitempty"`
	TicketID     string    `json:"ticket_id,omitempty"`
	GuestID      string    `json:"guest_id,omitempty"`
	Evicted      int       `json:"evicted,omitempty"`
	WaitingCount int       `json:"waiting_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}
