package models

import "time"

type Ticket struct {
	TicketID  string     `json:"ticket_id"`
	QueueID   string     `json:"queue_id"`
	GuestID   string     `json:"guest_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ServedAt  *time.Time `json:"served_at,omitempty"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

const (
	StatusWaiting = "waiting"
	StatusServing = "serving"
	StatusDone    = "done"
)

// Active reports whether the ticket still holds a place in its queue.
func (t Ticket) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusServing
}
