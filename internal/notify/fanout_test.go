package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"qme/internal/messaging"
	"qme/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, message, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	s.to = append(s.to, recipient)
	return s.err
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeGuests map[string]models.Guest

func (g fakeGuests) GetGuest(ctx context.Context, guestID string) (models.Guest, error) {
	guest, ok := g[guestID]
	if !ok {
		return models.Guest{}, errors.New("guest not found")
	}
	return guest, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *fakeSink) WriteEvent(ctx context.Context, event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestFanoutDispatchesToSubscribersSinksAndSMS(t *testing.T) {
	hub := NewHub()
	client := NewClient("dash", 8)
	hub.Register(client)

	sender := &fakeSender{}
	sink := &fakeSink{err: errors.New("broker down")}
	fanout := NewFanout(hub, Options{
		Sinks:  []Sink{sink},
		Guests: fakeGuests{"g-1": {GuestID: "g-1", Name: "Rana", Phone: "+9611234567"}},
		Sender: sender,
	})
	hub.Subscribe(client, "q-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fanout.Run(ctx)

	fanout.Publish(models.Event{Type: models.EventEnqueued, QueueID: "q-1", GuestID: "g-1"})
	fanout.Publish(models.Event{Type: models.EventServed, QueueID: "q-1", QueueName: "Tables", GuestID: "g-1"})

	for i := 0; i < 2; i++ {
		select {
		case payload := <-client.Send:
			var event models.Event
			require.NoError(t, json.Unmarshal(payload, &event))
			assert.Equal(t, "q-1", event.QueueID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	require.Eventually(t, func() bool { return sender.count() == 1 && sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "+9611234567", sender.to[0])
	assert.Equal(t, "Rana, it is your turn in Tables. Please proceed.", sender.sent[0])
}

func TestPublishNeverBlocks(t *testing.T) {
	fanout := NewFanout(NewHub(), Options{Buffer: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			fanout.Publish(models.Event{Type: models.EventEnqueued, QueueID: "q-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a dispatcher")
	}
}

func TestStuckSubscriberDoesNotStallDispatch(t *testing.T) {
	hub := NewHub()
	stuck := NewClient("stuck", 1)
	live := NewClient("live", 16)
	hub.Register(stuck)
	hub.Register(live)
	hub.Subscribe(stuck, "q-1")
	hub.Subscribe(live, "q-1")

	fanout := NewFanout(hub, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fanout.Run(ctx)

	for i := 0; i < 5; i++ {
		fanout.Publish(models.Event{Type: models.EventEnqueued, QueueID: "q-1"})
	}
	require.Eventually(t, func() bool { return len(live.Send) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, stuck.Send, 1)
}

func TestServedSMSFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: messaging.ErrProviderFailure}
	fanout := NewFanout(NewHub(), Options{
		Guests: fakeGuests{"g-1": {GuestID: "g-1", Phone: "+9611234567"}},
		Sender: sender,
	})

	fanout.dispatch(context.Background(), models.Event{Type: models.EventServed, QueueID: "q-1", GuestID: "g-1"})
	fanout.dispatch(context.Background(), models.Event{Type: models.EventServed, QueueID: "q-1", GuestID: "unknown"})
	assert.Equal(t, 1, sender.count())
}
