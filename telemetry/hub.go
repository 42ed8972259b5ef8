// Package telemetry republishes metric messages to websocket observers
// (dashboards, log tails). It is strictly read-only for clients: the hub
// never accepts inbound commands.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/evobot/observ"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans metric payloads out to every connected websocket client.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
	}
}

// Run pumps broadcasts until ctx is cancelled. A client that fails a
// write is dropped.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a JSON-encoded payload for broadcast. Slow consumers
// never block the trading path: when the queue is full the payload is
// dropped.
func (h *Hub) Publish(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		observ.Error("telemetry_marshal_failed", err, nil)
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// Handler upgrades an HTTP request to a metrics-stream websocket.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			observ.Error("telemetry_upgrade_failed", err, nil)
			return
		}
		h.mu.Lock()
		h.clients[conn] = true
		h.mu.Unlock()
	}
}

// Clients reports the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

// Serve runs the hub and its HTTP endpoint at addr until ctx ends.
func Serve(ctx context.Context, h *Hub, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	observ.Log("telemetry_listening", map[string]any{"addr": addr})
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
