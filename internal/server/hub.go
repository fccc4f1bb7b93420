package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"astrored/internal/pipeline"
)

const writeWait = 5 * time.Second

// Hub fans pipeline results out to WebSocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}
}

// attach subscribes to pipe and relays every result until ctx ends.
func (h *Hub) attach(ctx context.Context, pipe *pipeline.Pipeline) {
	results, unsubscribe := pipe.Subscribe()
	go func() {
		defer unsubscribe()
		h.forward(ctx, results)
	}()
}

func (h *Hub) forward(ctx context.Context, results <-chan pipeline.Result) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case res, ok := <-results:
			if !ok {
				h.closeAll()
				return
			}
			msg, err := json.Marshal(res.Event())
			if err != nil {
				h.log.Warn("encode event", "job", res.Job.ID, "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "total", total)

	go func() {
		defer func() {
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		}()
		// clients only listen; reading detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
