// Package gateway streams the engine's lifecycle events to WebSocket
// observers (operator dashboards, reconciliation tooling). The hub
// subscribes to the bus like any other component, wraps each event in a
// sequenced envelope, and fans it out; a ring buffer of recent envelopes is
// replayed to late-joining clients.
package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"exec-enginev1/internal/model"
	"exec-enginev1/internal/ringbuf"
)

// Envelope is the wire format of one feed message.
type Envelope struct {
	Seq     int64       `json:"seq"`
	Type    string      `json:"type"`
	PosID   string      `json:"pos_id"`
	Emitted time.Time   `json:"emitted_at"`
	Event   model.Event `json:"event"`
}

// Hub manages WebSocket clients and event fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ringbuf.Ring
}

// NewHub creates a Hub buffering replayCap recent envelopes.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  ringbuf.New(replayCap),
	}
}

// HandleEvent implements the bus handler: envelope, buffer, broadcast.
// A marshal failure is logged and the event skipped; a full client send
// buffer drops the frame for that client only.
func (h *Hub) HandleEvent(ev model.Event) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	data, err := json.Marshal(Envelope{
		Seq:     seq,
		Type:    string(ev.Type()),
		PosID:   ev.TradeID(),
		Emitted: ev.EmittedAt(),
		Event:   ev,
	})
	if err != nil {
		log.Printf("[gateway] marshal %s failed: %v", ev.Type(), err)
		return
	}
	h.replay.Push(seq, data)

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[gateway] client send buffer full, dropping frame seq=%d", seq)
		}
	}
	h.mu.RUnlock()
}

// Recent returns the buffered envelopes, oldest first.
func (h *Hub) Recent() []json.RawMessage {
	frames := h.replay.Snapshot()
	out := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		out = append(out, json.RawMessage(f.Data))
	}
	return out
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[gateway] client connected (%d total)", n)

	// Replay recent history so the observer starts with context.
	for _, f := range h.replay.Snapshot() {
		select {
		case c.send <- f.Data:
		default:
			return
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[gateway] client disconnected (%d total)", n)
}
