package models

import (
	"encoding/json"
	"time"
)

type Queue struct {
	QueueID         string        `json:"queue_id"`
	BranchID        string        `json:"branch_id"`
	Name            string        `json:"name"`
	ServiceDuration time.Duration `json:"-"`
	Closed          bool          `json:"closed"`
	CreatedAt       time.Time     `json:"created_at"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
}

type queueJSON struct {
	QueueID         string     `json:"queue_id"`
	BranchID        string     `json:"branch_id"`
	Name            string     `json:"name"`
	ServiceDuration int64      `json:"service_duration_seconds"`
	Closed          bool       `json:"closed"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

func (q Queue) MarshalJSON() ([]byte, error) {
	return json.Marshal(queueJSON{
		QueueID:         q.QueueID,
		BranchID:        q.BranchID,
		Name:            q.Name,
		ServiceDuration: int64(q.ServiceDuration / time.Second),
		Closed:          q.Closed,
		CreatedAt:       q.CreatedAt,
		ClosedAt:        q.ClosedAt,
	})
}

func (q *Queue) UnmarshalJSON(data []byte) error {
	var raw queueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = Queue{
		QueueID:         raw.QueueID,
		BranchID:        raw.BranchID,
		Name:            raw.Name,
		ServiceDuration: time.Duration(raw.ServiceDuration) * time.Second,
		Closed:          raw.Closed,
		CreatedAt:       raw.CreatedAt,
		ClosedAt:        raw.ClosedAt,
	}
	return nil
}
