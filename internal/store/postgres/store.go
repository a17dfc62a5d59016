package postgres

import (
	"context"
	"errors"
	"time"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateQueue(ctx context.Context, queue models.Queue) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queues (queue_id, branch_id, name, service_duration_seconds, closed, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, queue.QueueID, queue.BranchID, queue.Name, int64(queue.ServiceDuration/time.Second), queue.Closed, queue.CreatedAt, queue.ClosedAt)
	return err
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT queue_id::text, branch_id, name, service_duration_seconds, closed, created_at, closed_at
		FROM queues
		WHERE queue_id = $1
	`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, branchID string) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_id::text, branch_id, name, service_duration_seconds, closed, created_at, closed_at
		FROM queues
		WHERE $1 = '' OR branch_id = $1
		ORDER BY created_at, queue_id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queues, nil
}

func scanQueue(row rowScanner) (models.Queue, error) {
	var queue models.Queue
	var seconds int64
	if err := row.Scan(&queue.QueueID, &queue.BranchID, &queue.Name, &seconds, &queue.Closed, &queue.CreatedAt, &queue.ClosedAt); err != nil {
		return models.Queue{}, err
	}
	queue.ServiceDuration = time.Duration(seconds) * time.Second
	queue.CreatedAt = queue.CreatedAt.UTC()
	if queue.ClosedAt != nil {
		closedAt := queue.ClosedAt.UTC()
		queue.ClosedAt = &closedAt
	}
	return queue, nil
}

const upsertTicketSQL = `
	INSERT INTO tickets (ticket_id, queue_id, guest_id, status, created_at, served_at, done_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (ticket_id) DO UPDATE
	SET status = EXCLUDED.status,
	    served_at = EXCLUDED.served_at,
	    done_at = EXCLUDED.done_at
`

func (s *Store) SaveTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := s.pool.Exec(ctx, upsertTicketSQL,
		ticket.TicketID, ticket.QueueID, ticket.GuestID, ticket.Status, ticket.CreatedAt, ticket.ServedAt, ticket.DoneAt)
	return err
}

func (s *Store) CloseQueue(ctx context.Context, queue models.Queue, evicted []models.Ticket) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE queues SET closed = TRUE, closed_at = $2
		WHERE queue_id = $1
	`, queue.QueueID, queue.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrQueueNotFound
		return err
	}

	if len(evicted) > 0 {
		batch := &pgx.Batch{}
		for _, ticket := range evicted {
			batch.Queue(upsertTicketSQL,
				ticket.TicketID, ticket.QueueID, ticket.GuestID, ticket.Status, ticket.CreatedAt, ticket.ServedAt, ticket.DoneAt)
		}
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) ActiveTickets(ctx context.Context, queueID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id::text, queue_id::text, guest_id::text, status, created_at, served_at, done_at
		FROM tickets
		WHERE queue_id = $1 AND status <> 'done'
		ORDER BY created_at, ticket_id
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := rows.Scan(&ticket.TicketID, &ticket.QueueID, &ticket.GuestID, &ticket.Status, &ticket.CreatedAt, &ticket.ServedAt, &ticket.DoneAt); err != nil {
			return nil, err
		}
		ticket.CreatedAt = ticket.CreatedAt.UTC()
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) SaveChallenge(ctx context.Context, challenge models.Challenge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO challenges (guest_id, code_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guest_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`, challenge.GuestID, challenge.CodeHash, challenge.CreatedAt, challenge.ExpiresAt)
	return err
}

func (s *Store) GetChallenge(ctx context.Context, guestID string) (models.Challenge, error) {
	var challenge models.Challenge
	row := s.pool.QueryRow(ctx, `
		SELECT guest_id::text, code_hash, created_at, expires_at
		FROM challenges
		WHERE guest_id = $1
	`, guestID)
	if err := row.Scan(&challenge.GuestID, &challenge.CodeHash, &challenge.CreatedAt, &challenge.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Challenge{}, store.ErrChallengeNotFound
		}
		return models.Challenge{}, err
	}
	return challenge, nil
}

func (s *Store) DeleteChallenge(ctx context.Context, guestID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE guest_id = $1`, guestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrChallengeNotFound
	}
	return nil
}

func (s *Store) CreateGuest(ctx context.Context, guest models.Guest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guests (guest_id, name, phone, created_at)
		VALUES ($1, $2, $3, $4)
	`, guest.GuestID, guest.Name, guest.Phone, guest.CreatedAt)
	return err
}

func (s *Store) GetGuest(ctx context.Context, guestID string) (models.Guest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT guest_id::text, name, phone, created_at
		FROM guests
		WHERE guest_id = $1
	`, guestID)
	return scanGuest(row)
}

func (s *Store) GetGuestByPhone(ctx context.Context, phone string) (models.Guest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT guest_id::text, name, phone, created_at
		FROM guests
		WHERE phone = $1
	`, phone)
	return scanGuest(row)
}

func scanGuest(row rowScanner) (models.Guest, error) {
	var guest models.Guest
	if err := row.Scan(&guest.GuestID, &guest.Name, &guest.Phone, &guest.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Guest{}, store.ErrGuestNotFound
		}
		return models.Guest{}, err
	}
	guest.CreatedAt = guest.CreatedAt.UTC()
	return guest, nil
}

func (s *Store) CreateSession(ctx context.Context, guestID string, expiresAt time.Time) (models.Session, error) {
	session := models.Session{
		SessionID: uuid.NewString(),
		GuestID:   guestID,
		ExpiresAt: expiresAt,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, guest_id, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.GuestID, session.ExpiresAt)
	if err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id::text, guest_id::text, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.GuestID, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}
