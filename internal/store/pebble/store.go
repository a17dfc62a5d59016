// Package pebblestore keeps queue state in an embedded Pebble database for
// single-node deployments.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var ErrPhoneTaken = errors.New("phone already registered")

const (
	queuePrefix     = "q/"
	ticketPrefix    = "t/"
	guestPrefix     = "g/"
	phonePrefix     = "gp/"
	challengePrefix = "c/"
	sessionPrefix   = "s/"
)

type Options struct {
	DataDir string
	// Sync forces a WAL fsync on every commit.
	Sync bool
}

type Store struct {
	db      *pebble.DB
	writes  *pebble.WriteOptions
	guestMu sync.Mutex
	now     func() time.Time
}

func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: DataDir is required")
	}
	po := &pebble.Options{}
	if !opts.Sync {
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}
	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}
	return &Store{db: db, writes: writeOpts, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func queueKey(queueID string) []byte           { return []byte(queuePrefix + queueID) }
func ticketKey(queueID, ticketID string) []byte { return []byte(ticketPrefix + queueID + "/" + ticketID) }
func guestKey(guestID string) []byte            { return []byte(guestPrefix + guestID) }
func phoneKey(phone string) []byte              { return []byte(phonePrefix + phone) }
func challengeKey(guestID string) []byte        { return []byte(challengePrefix + guestID) }
func sessionKey(sessionID string) []byte        { return []byte(sessionPrefix + sessionID) }

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) get(key []byte, dest any, notFound error) error {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return notFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(val, dest)
}

func (s *Store) put(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Set(key, raw, s.writes)
}

func (s *Store) scan(prefix []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) CreateQueue(ctx context.Context, queue models.Queue) error {
	return s.put(queueKey(queue.QueueID), queue)
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	var queue models.Queue
	if err := s.get(queueKey(queueID), &queue, store.ErrQueueNotFound); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context, branchID string) ([]models.Queue, error) {
	var queues []models.Queue
	err := s.scan([]byte(queuePrefix), func(value []byte) error {
		var queue models.Queue
		if err := json.Unmarshal(value, &queue); err != nil {
			return err
		}
		if branchID == "" || queue.BranchID == branchID {
			queues = append(queues, queue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(queues, func(i, j int) bool {
		if !queues[i].CreatedAt.Equal(queues[j].CreatedAt) {
			return queues[i].CreatedAt.Before(queues[j].CreatedAt)
		}
		return queues[i].QueueID < queues[j].QueueID
	})
	return queues, nil
}

func (s *Store) SaveTicket(ctx context.Context, ticket models.Ticket) error {
	return s.put(ticketKey(ticket.QueueID, ticket.TicketID), ticket)
}

func (s *Store) CloseQueue(ctx context.Context, queue models.Queue, evicted []models.Ticket) error {
	if _, err := s.GetQueue(ctx, queue.QueueID); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()

	raw, err := json.Marshal(queue)
	if err != nil {
		return err
	}
	if err := b.Set(queueKey(queue.QueueID), raw, nil); err != nil {
		return err
	}
	for _, ticket := range evicted {
		raw, err := json.Marshal(ticket)
		if err != nil {
			return err
		}
		if err := b.Set(ticketKey(ticket.QueueID, ticket.TicketID), raw, nil); err != nil {
			return err
		}
	}
	return b.Commit(s.writes)
}

func (s *Store) ActiveTickets(ctx context.Context, queueID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.scan([]byte(ticketPrefix+queueID+"/"), func(value []byte) error {
		var ticket models.Ticket
		if err := json.Unmarshal(value, &ticket); err != nil {
			return err
		}
		if ticket.Active() {
			tickets = append(tickets, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		}
		return tickets[i].TicketID < tickets[j].TicketID
	})
	return tickets, nil
}

func (s *Store) SaveChallenge(ctx context.Context, challenge models.Challenge) error {
	return s.put(challengeKey(challenge.GuestID), challenge)
}

func (s *Store) GetChallenge(ctx context.Context, guestID string) (models.Challenge, error) {
	var challenge models.Challenge
	if err := s.get(challengeKey(guestID), &challenge, store.ErrChallengeNotFound); err != nil {
		return models.Challenge{}, err
	}
	return challenge, nil
}

func (s *Store) DeleteChallenge(ctx context.Context, guestID string) error {
	if _, err := s.GetChallenge(ctx, guestID); err != nil {
		return err
	}
	return s.db.Delete(challengeKey(guestID), s.writes)
}

func (s *Store) CreateGuest(ctx context.Context, guest models.Guest) error {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	if _, closer, err := s.db.Get(phoneKey(guest.Phone)); err == nil {
		closer.Close()
		return ErrPhoneTaken
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}

	raw, err := json.Marshal(guest)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(guestKey(guest.GuestID), raw, nil); err != nil {
		return err
	}
	if err := b.Set(phoneKey(guest.Phone), []byte(guest.GuestID), nil); err != nil {
		return err
	}
	return b.Commit(s.writes)
}

func (s *Store) GetGuest(ctx context.Context, guestID string) (models.Guest, error) {
	var guest models.Guest
	if err := s.get(guestKey(guestID), &guest, store.ErrGuestNotFound); err != nil {
		return models.Guest{}, err
	}
	return guest, nil
}

func (s *Store) GetGuestByPhone(ctx context.Context, phone string) (models.Guest, error) {
	val, closer, err := s.db.Get(phoneKey(phone))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Guest{}, store.ErrGuestNotFound
		}
		return models.Guest{}, err
	}
	guestID := string(val)
	closer.Close()
	return s.GetGuest(ctx, guestID)
}

func (s *Store) CreateSession(ctx context.Context, guestID string, expiresAt time.Time) (models.Session, error) {
	session := models.Session{SessionID: uuid.NewString(), GuestID: guestID, ExpiresAt: expiresAt}
	if err := s.put(sessionKey(session.SessionID), session); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	if err := s.get(sessionKey(sessionID), &session, store.ErrSessionNotFound); err != nil {
		return models.Session{}, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

var _ store.Store = (*Store)(nil)
