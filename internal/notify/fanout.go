package notify

import (
	"context"
	"encoding/json"
	"expvar"
	"time"

	"qme/internal/messaging"
	"qme/internal/models"

	"github.com/rs/zerolog/log"
)

var (
	publishedEvents = expvar.NewInt("notify_events_published")
	droppedEvents   = expvar.NewInt("notify_events_dropped")
	droppedMessages = expvar.NewInt("notify_client_messages_dropped")
	smsFailures     = expvar.NewInt("notify_sms_failures")
)

// Sink receives every event after it has been pushed to subscribers.
type Sink interface {
	WriteEvent(ctx context.Context, event models.Event) error
}

// GuestDirectory resolves a guest's contact details.
type GuestDirectory interface {
	GetGuest(ctx context.Context, guestID string) (models.Guest, error)
}

type Options struct {
	Buffer      int
	SendTimeout time.Duration
	Sinks       []Sink
	Guests      GuestDirectory
	Sender      messaging.Sender
	Templates   messaging.Templates
}

// Fanout decouples queue mutations from their side effects. Publish only
// queues the event; Run delivers it.
type Fanout struct {
	hub         *Hub
	events      chan models.Event
	sinks       []Sink
	guests      GuestDirectory
	sender      messaging.Sender
	templates   messaging.Templates
	sendTimeout time.Duration
}

func NewFanout(hub *Hub, opts Options) *Fanout {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	templates := opts.Templates
	if templates == nil {
		templates = messaging.DefaultTemplates()
	}
	return &Fanout{
		hub:         hub,
		events:      make(chan models.Event, buffer),
		sinks:       opts.Sinks,
		guests:      opts.Guests,
		sender:      opts.Sender,
		templates:   templates,
		sendTimeout: timeout,
	}
}

// Publish never blocks; when the dispatcher is behind the event is dropped.
func (f *Fanout) Publish(event models.Event) {
	select {
	case f.events <- event:
		publishedEvents.Add(1)
	default:
		droppedEvents.Add(1)
		log.Warn().Str("type", event.Type).Str("queue_id", event.QueueID).Msg("fanout buffer full, event dropped")
	}
}

// Run dispatches queued events until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.events:
			f.dispatch(ctx, event)
		}
	}
}

func (f *Fanout) dispatch(ctx context.Context, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("encode event")
		return
	}
	f.hub.Broadcast(event.QueueID, payload)

	for _, sink := range f.sinks {
		if err := sink.WriteEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("type", event.Type).Str("queue_id", event.QueueID).Msg("event sink error")
		}
	}

	if event.Type == models.EventServed {
		f.notifyServed(ctx, event)
	}
}

func (f *Fanout) notifyServed(ctx context.Context, event models.Event) {
	if f.sender == nil || f.guests == nil || event.GuestID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.sendTimeout)
	defer cancel()

	guest, err := f.guests.GetGuest(ctx, event.GuestID)
	if err != nil {
		smsFailures.Add(1)
		log.Error().Err(err).Str("guest_id", event.GuestID).Msg("resolve served guest")
		return
	}
	if guest.Phone == "" {
		return
	}
	message := f.templates.Render(messaging.TemplateServed, map[string]string{
		"guest_name": guest.Name,
		"queue_name": event.QueueName,
	})
	if err := f.sender.Send(ctx, message, guest.Phone); err != nil {
		smsFailures.Add(1)
		log.Error().Err(err).Str("guest_id", event.GuestID).Str("queue_id", event.QueueID).Msg("served sms failed")
	}
}
