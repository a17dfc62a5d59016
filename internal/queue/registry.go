package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxQueueNameLength = 30

type CreateQueueInput struct {
	BranchID        string
	Name            string
	ServiceDuration time.Duration
}

// Registry owns queue existence and closure. Ticket lifecycle is delegated to
// the Engine.
type Registry struct {
	queues  store.QueueStore
	tickets store.TicketStore
	engine  *Engine
	now     func() time.Time
}

func NewRegistry(queues store.QueueStore, tickets store.TicketStore, engine *Engine) *Registry {
	return &Registry{
		queues:  queues,
		tickets: tickets,
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Engine() *Engine {
	return r.engine
}

func (r *Registry) Create(ctx context.Context, input CreateQueueInput) (models.Queue, error) {
	branchID := strings.TrimSpace(input.BranchID)
	name := strings.TrimSpace(input.Name)
	if branchID == "" {
		return models.Queue{}, fmt.Errorf("%w: branch_id is required", ErrInvalidInput)
	}
	if name == "" || utf8.RuneCountInString(name) > maxQueueNameLength {
		return models.Queue{}, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidInput, maxQueueNameLength)
	}
	// Stores keep whole seconds.
	serviceDuration := input.ServiceDuration.Truncate(time.Second)
	if serviceDuration < time.Second {
		return models.Queue{}, fmt.Errorf("%w: service duration must be at least one second", ErrInvalidInput)
	}

	queue := models.Queue{
		QueueID:         uuid.NewString(),
		BranchID:        branchID,
		Name:            name,
		ServiceDuration: serviceDuration,
		CreatedAt:       r.now(),
	}
	if err := r.queues.CreateQueue(ctx, queue); err != nil {
		return models.Queue{}, store.Wrap(err, "create queue")
	}
	r.engine.Open(queue)
	return queue, nil
}

// Get prefers the engine's live view so a just-closed queue reads as closed.
func (r *Registry) Get(ctx context.Context, queueID string) (models.Queue, error) {
	if queue, err := r.engine.Queue(queueID); err == nil {
		return queue, nil
	}
	queue, err := r.queues.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, store.Wrap(err, "get queue")
	}
	return queue, nil
}

func (r *Registry) List(ctx context.Context, branchID string) ([]models.Queue, error) {
	queues, err := r.queues.ListQueues(ctx, strings.TrimSpace(branchID))
	if err != nil {
		return nil, store.Wrap(err, "list queues")
	}
	for i := range queues {
		if live, err := r.engine.Queue(queues[i].QueueID); err == nil {
			queues[i] = live
		}
	}
	return queues, nil
}

func (r *Registry) Close(ctx context.Context, queueID string) (int, error) {
	evicted, err := r.engine.Close(ctx, queueID)
	if errors.Is(err, ErrQueueNotFound) {
		// Known to the store but not loaded; load it and retry once.
		if loadErr := r.load(ctx, queueID); loadErr != nil {
			return 0, loadErr
		}
		return r.engine.Close(ctx, queueID)
	}
	return evicted, err
}

func (r *Registry) load(ctx context.Context, queueID string) error {
	queue, err := r.queues.GetQueue(ctx, queueID)
	if err != nil {
		return store.Wrap(err, "get queue")
	}
	return r.restoreQueue(ctx, queue)
}

func (r *Registry) restoreQueue(ctx context.Context, queue models.Queue) error {
	var tickets []models.Ticket
	if !queue.Closed {
		active, err := r.tickets.ActiveTickets(ctx, queue.QueueID)
		if err != nil {
			return store.Wrap(err, "active tickets")
		}
		tickets = active
	}
	return r.engine.Load(queue, tickets)
}

// Restore loads every persisted queue and its active tickets into the engine.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	queues, err := r.queues.ListQueues(ctx, "")
	if err != nil {
		return 0, store.Wrap(err, "list queues")
	}
	restored := 0
	for _, queue := range queues {
		if err := r.restoreQueue(ctx, queue); err != nil {
			return restored, err
		}
		restored++
	}
	log.Info().Int("queues", restored).Msg("queues restored")
	return restored, nil
}
