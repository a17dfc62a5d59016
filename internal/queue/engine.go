package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PositionServing is reported by PositionOf for the guest currently being served.
const PositionServing = -1

// Publisher receives an event after every committed mutation. Publish is
// called with no queue lock held and must not block.
type Publisher interface {
	Publish(event models.Event)
}

// View is a consistent copy of one queue's line.
type View struct {
	Queue   models.Queue    `json:"queue"`
	Serving *models.Ticket  `json:"serving,omitempty"`
	Waiting []models.Ticket `json:"waiting"`
}

// line is never modified once stored in an entry; every mutation builds a new one.
type line struct {
	queue   models.Queue
	serving *models.Ticket
	waiting []models.Ticket
}

func (l *line) clone() *line {
	next := &line{queue: l.queue}
	if l.serving != nil {
		serving := *l.serving
		next.serving = &serving
	}
	next.waiting = make([]models.Ticket, len(l.waiting))
	copy(next.waiting, l.waiting)
	return next
}

func (l *line) holds(guestID string) bool {
	if l.serving != nil && l.serving.GuestID == guestID {
		return true
	}
	for _, ticket := range l.waiting {
		if ticket.GuestID == guestID {
			return true
		}
	}
	return false
}

func (l *line) position(guestID string) (int, error) {
	if l.serving != nil && l.serving.GuestID == guestID {
		return PositionServing, nil
	}
	for i, ticket := range l.waiting {
		if ticket.GuestID == guestID {
			return i, nil
		}
	}
	return 0, ErrTicketNotFound
}

type entry struct {
	mu    sync.Mutex
	state atomic.Pointer[line]
}

type Options struct {
	Store     store.TicketStore
	Publisher Publisher
	Now       func() time.Time
}

// Engine keeps the waiting line of every open queue. Mutations on one queue
// are serialized by that queue's mutex; reads load an immutable snapshot and
// never wait for a mutation.
type Engine struct {
	mu        sync.RWMutex
	queues    map[string]*entry
	store     store.TicketStore
	publisher Publisher
	now       func() time.Time
	tracer    trace.Tracer
}

func NewEngine(options Options) *Engine {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		queues:    make(map[string]*entry),
		store:     options.Store,
		publisher: options.Publisher,
		now:       now,
		tracer:    otel.Tracer("qme/queue"),
	}
}

// SetPublisher replaces the event publisher. It is meant for start-up wiring.
func (e *Engine) SetPublisher(publisher Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = publisher
}

// Open registers a queue with an empty line. Opening a known queue is a no-op.
func (e *Engine) Open(queue models.Queue) {
	_ = e.Load(queue, nil)
}

// Load registers a queue and rebuilds its line from persisted tickets.
// Done tickets are ignored; waiting tickets are ordered by creation time and
// then ticket ID. Loading a queue the engine already holds is a no-op.
func (e *Engine) Load(queue models.Queue, tickets []models.Ticket) error {
	restored := &line{queue: queue}
	for _, ticket := range tickets {
		if ticket.QueueID != "" && ticket.QueueID != queue.QueueID {
			return fmt.Errorf("%w: ticket %s belongs to queue %s", ErrInvalidInput, ticket.TicketID, ticket.QueueID)
		}
		switch ticket.Status {
		case models.StatusWaiting:
			restored.waiting = append(restored.waiting, ticket)
		case models.StatusServing:
			if restored.serving != nil {
				return fmt.Errorf("%w: queue %s has more than one serving ticket", ErrInvalidInput, queue.QueueID)
			}
			serving := ticket
			restored.serving = &serving
		}
	}
	if queue.Closed && (restored.serving != nil || len(restored.waiting) > 0) {
		return fmt.Errorf("%w: closed queue %s has active tickets", ErrInvalidInput, queue.QueueID)
	}
	sort.SliceStable(restored.waiting, func(i, j int) bool {
		a, b := restored.waiting[i], restored.waiting[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	// A live line is newer than anything read from the store.
	if _, ok := e.queues[queue.QueueID]; ok {
		return nil
	}
	ent := &entry{}
	ent.state.Store(restored)
	e.queues[queue.QueueID] = ent
	return nil
}

func (e *Engine) lookup(queueID string) (*entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.queues[queueID]
	return ent, ok
}

func (e *Engine) snapshot(queueID string) (*line, error) {
	ent, ok := e.lookup(queueID)
	if !ok {
		return nil, ErrQueueNotFound
	}
	return ent.state.Load(), nil
}

type step func(cur *line) (next *line, persist func(context.Context) error, err error)

// commit runs one mutation under the queue's mutex. The new line becomes
// visible only after persist succeeds.
func (e *Engine) commit(ctx context.Context, queueID string, fn step) (*line, error) {
	ent, ok := e.lookup(queueID)
	if !ok {
		return nil, ErrQueueNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	next, persist, err := fn(ent.state.Load())
	if err != nil {
		return nil, err
	}
	if persist != nil && e.store != nil {
		if err := persist(ctx); err != nil {
			return nil, err
		}
	}
	ent.state.Store(next)
	return next, nil
}

func (e *Engine) saveTicket(ticket models.Ticket) func(context.Context) error {
	return func(ctx context.Context) error {
		return store.Wrap(e.store.SaveTicket(ctx, ticket), "save ticket")
	}
}

func (e *Engine) publish(event models.Event) {
	e.mu.RLock()
	publisher := e.publisher
	e.mu.RUnlock()
	if publisher == nil {
		return
	}
	publisher.Publish(event)
}

func (e *Engine) event(eventType string, l *line, ticket *models.Ticket) models.Event {
	event := models.Event{
		Type:         eventType,
		QueueID:      l.queue.QueueID,
		BranchID:     l.queue.BranchID,
		QueueName:    l.queue.Name,
		WaitingCount: len(l.waiting),
		OccurredAt:   e.now(),
	}
	if ticket != nil {
		event.TicketID = ticket.TicketID
		event.GuestID = ticket.GuestID
	}
	return event
}

func (e *Engine) startSpan(ctx context.Context, name, queueID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("queue.id", queueID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Enqueue appends a waiting ticket for the guest to the tail of the line.
func (e *Engine) Enqueue(ctx context.Context, queueID, guestID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "queue.Enqueue", queueID)
	defer func() { endSpan(span, err) }()

	if guestID == "" {
		return models.Ticket{}, fmt.Errorf("%w: guest_id is required", ErrInvalidInput)
	}

	next, err := e.commit(ctx, queueID, func(cur *line) (*line, func(context.Context) error, error) {
		if cur.queue.Closed {
			return nil, nil, ErrQueueClosed
		}
		if cur.holds(guestID) {
			return nil, nil, ErrAlreadyEnqueued
		}
		ticket = models.Ticket{
			TicketID:  newTicketID(),
			QueueID:   queueID,
			GuestID:   guestID,
			Status:    models.StatusWaiting,
			CreatedAt: e.now(),
		}
		next := cur.clone()
		next.waiting = append(next.waiting, ticket)
		return next, e.saveTicket(ticket), nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.publish(e.event(models.EventEnqueued, next, &ticket))
	return ticket, nil
}

// Serve promotes the head of the waiting line to serving.
func (e *Engine) Serve(ctx context.Context, queueID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "queue.Serve", queueID)
	defer func() { endSpan(span, err) }()

	next, err := e.commit(ctx, queueID, func(cur *line) (*line, func(context.Context) error, error) {
		if cur.queue.Closed {
			return nil, nil, ErrQueueClosed
		}
		if cur.serving != nil {
			return nil, nil, ErrAlreadyServing
		}
		if len(cur.waiting) == 0 {
			return nil, nil, ErrQueueEmpty
		}
		if !ValidTransition(actionServe, cur.waiting[0].Status) {
			return nil, nil, ErrInvalidState
		}
		servedAt := e.now()
		ticket = cur.waiting[0]
		ticket.Status = models.StatusServing
		ticket.ServedAt = &servedAt

		serving := ticket
		next := &line{queue: cur.queue, serving: &serving}
		next.waiting = make([]models.Ticket, len(cur.waiting)-1)
		copy(next.waiting, cur.waiting[1:])
		return next, e.saveTicket(ticket), nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.publish(e.event(models.EventServed, next, &ticket))
	return ticket, nil
}

// Dequeue finishes the ticket being served.
func (e *Engine) Dequeue(ctx context.Context, queueID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "queue.Dequeue", queueID)
	defer func() { endSpan(span, err) }()

	next, err := e.commit(ctx, queueID, func(cur *line) (*line, func(context.Context) error, error) {
		if cur.serving == nil {
			return nil, nil, ErrNothingServing
		}
		if !ValidTransition(actionDequeue, cur.serving.Status) {
			return nil, nil, ErrInvalidState
		}
		doneAt := e.now()
		ticket = *cur.serving
		ticket.Status = models.StatusDone
		ticket.DoneAt = &doneAt

		next := cur.clone()
		next.serving = nil
		return next, e.saveTicket(ticket), nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.publish(e.event(models.EventDequeued, next, &ticket))
	return ticket, nil
}

// Close marks the queue closed and finishes every waiting and serving ticket
// in one step. It returns the number of tickets evicted; closing a closed
// queue evicts nothing.
func (e *Engine) Close(ctx context.Context, queueID string) (evicted int, err error) {
	ctx, span := e.startSpan(ctx, "queue.Close", queueID)
	defer func() { endSpan(span, err) }()

	alreadyClosed := false
	next, err := e.commit(ctx, queueID, func(cur *line) (*line, func(context.Context) error, error) {
		if cur.queue.Closed {
			alreadyClosed = true
			return cur, nil, nil
		}
		closedAt := e.now()
		queue := cur.queue
		queue.Closed = true
		queue.ClosedAt = &closedAt

		var tickets []models.Ticket
		if cur.serving != nil {
			tickets = append(tickets, *cur.serving)
		}
		tickets = append(tickets, cur.waiting...)
		for i := range tickets {
			if !ValidTransition(actionClose, tickets[i].Status) {
				return nil, nil, ErrInvalidState
			}
			tickets[i].Status = models.StatusDone
			tickets[i].DoneAt = &closedAt
		}
		evicted = len(tickets)

		persist := func(ctx context.Context) error {
			return store.Wrap(e.store.CloseQueue(ctx, queue, tickets), "close queue")
		}
		return &line{queue: queue}, persist, nil
	})
	if err != nil {
		return 0, err
	}
	if alreadyClosed {
		return 0, nil
	}

	event := e.event(models.EventClosed, next, nil)
	event.Evicted = evicted
	e.publish(event)
	return evicted, nil
}

// PositionOf returns the guest's 0-based rank among waiting tickets, or
// PositionServing when the guest is being served.
func (e *Engine) PositionOf(queueID, guestID string) (int, error) {
	cur, err := e.snapshot(queueID)
	if err != nil {
		return 0, err
	}
	return cur.position(guestID)
}

// Standing is a guest's place in a queue, read from a single line.
type Standing struct {
	Queue        models.Queue
	Position     int
	WaitingCount int
}

// Standing returns the queue, the guest's position and the waiting count as
// they were at one instant.
func (e *Engine) Standing(queueID, guestID string) (Standing, error) {
	cur, err := e.snapshot(queueID)
	if err != nil {
		return Standing{}, err
	}
	position, err := cur.position(guestID)
	if err != nil {
		return Standing{}, err
	}
	return Standing{Queue: cur.queue, Position: position, WaitingCount: len(cur.waiting)}, nil
}

func (e *Engine) WaitingCount(queueID string) (int, error) {
	cur, err := e.snapshot(queueID)
	if err != nil {
		return 0, err
	}
	return len(cur.waiting), nil
}

func (e *Engine) Queue(queueID string) (models.Queue, error) {
	cur, err := e.snapshot(queueID)
	if err != nil {
		return models.Queue{}, err
	}
	return cur.queue, nil
}

// Snapshot returns a copy of the queue's current line.
func (e *Engine) Snapshot(queueID string) (View, error) {
	cur, err := e.snapshot(queueID)
	if err != nil {
		return View{}, err
	}
	copied := cur.clone()
	return View{Queue: copied.queue, Serving: copied.serving, Waiting: copied.waiting}, nil
}

// newTicketID returns a time-ordered UUID so that ID order follows creation order.
func newTicketID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
