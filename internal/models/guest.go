package models

import "time"

type Guest struct {
	GuestID   string    `json:"guest_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Challenge is a pending one-time passcode for a guest. Only the hash of the
// code is kept.
type Challenge struct {
	GuestID   string    `json:"guest_id"`
	CodeHash  string    `json:"code_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Session struct {
	SessionID string    `json:"session_id"`
	GuestID   string    `json:"guest_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
