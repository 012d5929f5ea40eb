package display

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/sketchround/internal/logging"
)

const (
	writeWait      = 5 * time.Second
	broadcastDepth = 64
)

// Hub fans frames out to every connected browser. It is the only writer on
// a registered connection, including the keepalive pings.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logging.Logger
	pingPeriod time.Duration
	dropped    int64
	droppedMu  sync.Mutex
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastDepth),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		pingPeriod: pongWait * 9 / 10,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(h.pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("display client connected", "clients", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("display client disconnected", "clients", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn("display write failed", "error", err.Error())
					delete(h.clients, client)
					_ = client.Close()
				}
			}
			h.mutex.Unlock()

		case <-ping.C:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					h.logger.Debug("display ping failed", "error", err.Error())
					delete(h.clients, client)
					_ = client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a client. It blocks until the hub accepts it.
func (h *Hub) Register(ctx context.Context, client *websocket.Conn) bool {
	select {
	case h.register <- client:
		return true
	case <-ctx.Done():
		return false
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
		_ = client.Close()
	}
}

// Broadcast queues a message for every client. It never blocks: when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.droppedMu.Lock()
		h.dropped++
		h.droppedMu.Unlock()
		return false
	}
}

// Dropped returns how many broadcasts were discarded on a full queue.
func (h *Hub) Dropped() int64 {
	h.droppedMu.Lock()
	defer h.droppedMu.Unlock()
	return h.dropped
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
