// Package ws serves browser clients over WebSocket and implements the connection
// registry the game packages push events through.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

type client struct {
	id       string
	clientID string
	send     chan []byte
}

// Hub maps connection ids to outbound queues. Sends never block: a full queue drops
// the message.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*client
	bufSize int
}

func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{conns: make(map[string]*client), bufSize: bufSize}
}

func (h *Hub) register(connID, clientID string) *client {
	c := &client{id: connID, clientID: clientID, send: make(chan []byte, h.bufSize)}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
}

// Len is the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func encode(event string, payload any) []byte {
	raw, err := json.Marshal(arenadto.Outbound{Event: event, Data: payload})
	if err != nil {
		obslog.L().Error("ws_encode_failed", zap.String("event", event), zap.Error(err))
		return nil
	}
	return raw
}

func (h *Hub) enqueue(c *client, event string, msg []byte) {
	select {
	case c.send <- msg:
	default:
		obslog.L().Warn("ws_send_dropped", zap.String("conn", c.id), zap.String("event", event))
	}
}

func (h *Hub) Send(connID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		obslog.L().Debug("ws_send_no_conn", zap.String("conn", connID), zap.String("event", event))
		return
	}
	if msg := encode(event, payload); msg != nil {
		h.enqueue(c, event, msg)
	}
}

func (h *Hub) Broadcast(event string, payload any) {
	h.BroadcastExcept("", event, payload)
}

func (h *Hub) BroadcastExcept(exceptConnID, event string, payload any) {
	msg := encode(event, payload)
	if msg == nil {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns))
	for id, c := range h.conns {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, event, msg)
	}
}
