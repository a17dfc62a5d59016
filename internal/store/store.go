package store

import (
	"context"
	"time"

	"qme/internal/models"
)

type QueueStore interface {
	CreateQueue(ctx context.Context, queue models.Queue) error
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	// ListQueues returns every queue of a branch, or every queue when branchID is empty.
	ListQueues(ctx context.Context, branchID string) ([]models.Queue, error)
}

type TicketStore interface {
	// SaveTicket inserts the ticket or overwrites its status and timestamps.
	SaveTicket(ctx context.Context, ticket models.Ticket) error
	// CloseQueue persists the closed queue and its evicted tickets atomically.
	CloseQueue(ctx context.Context, queue models.Queue, evicted []models.Ticket) error
	ActiveTickets(ctx context.Context, queueID string) ([]models.Ticket, error)
}

type ChallengeStore interface {
	SaveChallenge(ctx context.Context, challenge models.Challenge) error
	GetChallenge(ctx context.Context, guestID string) (models.Challenge, error)
	DeleteChallenge(ctx context.Context, guestID string) error
}

type GuestStore interface {
	CreateGuest(ctx context.Context, guest models.Guest) error
	GetGuest(ctx context.Context, guestID string) (models.Guest, error)
	GetGuestByPhone(ctx context.Context, phone string) (models.Guest, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, guestID string, expiresAt time.Time) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
}

type Store interface {
	QueueStore
	TicketStore
	ChallengeStore
	GuestStore
	SessionStore
	Close() error
}
