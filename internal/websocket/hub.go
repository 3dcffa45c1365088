package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/docscan/internal/metrics"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
)

// Message is one ledger change pushed to admin clients.
type Message struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Account *model.Account `json:"account,omitempty"`
	Usage   *model.Usage   `json:"usage,omitempty"`
	Count   int            `json:"count,omitempty"`
}

// NewMessage converts a ledger event into a feed message.
func NewMessage(ev quota.Event, at time.Time) Message {
	return Message{
		Type:    string(ev.Type),
		At:      at.UTC(),
		Account: ev.Account,
		Usage:   ev.Usage,
		Count:   ev.Count,
	}
}

// Hub maintains the set of connected feed clients and fans out messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped int
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "events"),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.EventSubscribers.Inc()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.EventSubscribers.Dec()
	}
}

// Notify publishes a ledger event. It never blocks, so it is safe to use as
// the ledger's notifier.
func (h *Hub) Notify(ev quota.Event) {
	h.Broadcast(NewMessage(ev, time.Now()))
}

// Broadcast queues msg for every client that follows it. Clients whose
// buffer is full miss the message and the drop is counted.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped++
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many per-client deliveries were skipped.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
