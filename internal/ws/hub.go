// Package ws fans deployment progress out to websocket subscribers.
package ws

import "sync"

// Subscriber is one streaming connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub keeps subscribers grouped by host and delivers broadcasts to every
// subscriber of that host. A subscriber whose Send fails is dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[Subscriber]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[Subscriber]struct{})}
}

// Register subscribes client to host.
func (h *Hub) Register(host string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[host]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.clients[host] = set
	}
	set[client] = struct{}{}
}

// Unregister removes client from host. Unknown clients are ignored.
func (h *Hub) Unregister(host string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(host, client)
}

// Broadcast sends payload to all subscribers of host.
func (h *Hub) Broadcast(host string, payload []byte) {
	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.clients[host]))
	for c := range h.clients[host] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.Unregister(host, c)
		}
	}
}

// Subscribers reports how many clients follow host.
func (h *Hub) Subscribers(host string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[host])
}

func (h *Hub) remove(host string, client Subscriber) {
	set, ok := h.clients[host]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, host)
	}
}
