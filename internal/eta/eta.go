// Package eta turns a guest's position in a queue into an expected wait.
package eta

import (
	"time"

	"qme/internal/queue"
)

// DefaultOffset counts the ticket currently being served as ahead of every
// waiting guest.
const DefaultOffset = 1

// Lines is the read side of the queue engine. Standing must read position,
// waiting count and queue from the same line.
type Lines interface {
	Standing(queueID, guestID string) (queue.Standing, error)
	WaitingCount(queueID string) (int, error)
}

type Status struct {
	QueueID        string        `json:"queue_id"`
	GuestID        string        `json:"guest_id"`
	Position       int           `json:"position"`
	Serving        bool          `json:"serving"`
	EstimatedWait  time.Duration `json:"-"`
	EstimatedWaitS int64         `json:"estimated_wait_seconds"`
	WaitingCount   int           `json:"waiting_count"`
}

type Calculator struct {
	lines  Lines
	offset int
}

func NewCalculator(lines Lines, offset int) *Calculator {
	if offset < 0 {
		offset = DefaultOffset
	}
	return &Calculator{lines: lines, offset: offset}
}

// EstimateWait is zero for the guest being served and
// (position + offset) * service duration for a waiting guest.
func (c *Calculator) EstimateWait(queueID, guestID string) (time.Duration, error) {
	standing, err := c.lines.Standing(queueID, guestID)
	if err != nil {
		return 0, err
	}
	return c.estimate(standing.Position, standing.Queue.ServiceDuration), nil
}

func (c *Calculator) estimate(position int, serviceDuration time.Duration) time.Duration {
	if position == queue.PositionServing {
		return 0
	}
	return time.Duration(position+c.offset) * serviceDuration
}

func (c *Calculator) CountWaiting(queueID string) (int, error) {
	return c.lines.WaitingCount(queueID)
}

func (c *Calculator) Status(queueID, guestID string) (Status, error) {
	standing, err := c.lines.Standing(queueID, guestID)
	if err != nil {
		return Status{}, err
	}
	wait := c.estimate(standing.Position, standing.Queue.ServiceDuration)
	return Status{
		QueueID:        queueID,
		GuestID:        guestID,
		Position:       standing.Position,
		Serving:        standing.Position == queue.PositionServing,
		EstimatedWait:  wait,
		EstimatedWaitS: int64(wait / time.Second),
		WaitingCount:   standing.WaitingCount,
	}, nil
}
