package gateway

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xpe-hub/xpe-bot/internal/bot"
	"github.com/xpe-hub/xpe-bot/internal/logsink"
	"github.com/xpe-hub/xpe-bot/internal/message"
)

// Frame is one websocket push to panel clients.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans connection events out to every attached websocket client.
// It implements bot.Notifier.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]bool),
	}
}

// Handle upgrades the request and keeps the client attached until it
// disconnects. Clients only receive; inbound frames are drained and
// dropped.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[Gateway] WebSocket upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast pushes one frame to every client. Writes are serialized
// under the hub lock; a failed client is dropped.
func (h *Hub) Broadcast(event string, data any) {
	frame := Frame{Event: event, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount reports attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BotStatus implements bot.Notifier.
func (h *Hub) BotStatus(status bot.Status) {
	h.Broadcast("bot.status", status)
}

// BotQR implements bot.Notifier.
func (h *Hub) BotQR(botID, code string) {
	h.Broadcast("bot.qr", map[string]string{"botId": botID, "code": code})
}

// BotMessage implements bot.Notifier.
func (h *Hub) BotMessage(msg message.Message) {
	h.Broadcast("bot.message", msg)
}

// WatchSink forwards every new log entry to the panel.
func (h *Hub) WatchSink(sink *logsink.Sink) {
	sink.Subscribe(func(entry logsink.Entry) {
		h.Broadcast("bot.log", entry)
	})
}
