package notify

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Client is one live subscriber. Payloads are queued on Send; the owner of
// the client drains it.
type Client struct {
	ID     string
	Send   chan []byte
	queues map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer), queues: make(map[string]struct{})}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	QueueID string `json:"queue_id"`
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, queueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.queues[queueID] = struct{}{}
}

// Unsubscribe drops one queue, or every queue when queueID is empty.
func (h *Hub) Unsubscribe(client *Client, queueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if queueID == "" {
		client.queues = make(map[string]struct{})
		return
	}
	delete(client.queues, queueID)
}

// Broadcast hands payload to every client subscribed to queueID without
// blocking. A client whose buffer is full misses the payload. It returns the
// number of clients that received it.
func (h *Hub) Broadcast(queueID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if _, ok := client.queues[queueID]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			droppedMessages.Add(1)
			log.Warn().Str("client_id", client.ID).Str("queue_id", queueID).Msg("drop message for client")
		}
	}
	return delivered
}

func (h *Hub) Subscribers(queueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, client := range h.clients {
		if _, ok := client.queues[queueID]; ok {
			count++
		}
	}
	return count
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != ActionSubscribe && msg.Action != ActionUnsubscribe {
		return SubscribeMessage{}, false
	}
	if msg.Action == ActionSubscribe && msg.QueueID == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
