// Package feed streams staff-facing events (new escalations, answers and
// feedback) to connected dashboard clients over WebSocket.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Event types published on the feed.
const (
	EventRequestCreated  = "request.created"
	EventRequestAnswered = "request.answered"
	EventFeedbackCreated = "feedback.created"
)

const defaultWriteTimeout = 5 * time.Second

// Event is a single message pushed to every subscriber.
type Event struct {
	Type     string               `json:"type"`
	Request  *domain.StaffRequest `json:"request,omitempty"`
	Feedback *domain.Feedback     `json:"feedback,omitempty"`
}

// Hub tracks subscriber connections and fans events out to them.
type Hub struct {
	mu             sync.RWMutex
	conns          map[string]*websocket.Conn
	originPatterns []string
	writeTimeout   time.Duration
}

// NewHub creates a hub accepting WebSocket upgrades from the given origins.
// An empty list only accepts same-origin upgrades.
func NewHub(originPatterns []string) *Hub {
	return &Hub{
		conns:          make(map[string]*websocket.Conn),
		originPatterns: originPatterns,
		writeTimeout:   defaultWriteTimeout,
	}
}

// Register adds a subscriber connection.
func (h *Hub) Register(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[id]; ok && existing != conn {
		_ = existing.CloseNow()
	}
	h.conns[id] = conn
	slog.Info("Feed subscriber registered", "subscriber_id", id)
}

// Unregister removes a subscriber if conn is still the current one for id.
func (h *Hub) Unregister(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[id]; ok && current == conn {
		delete(h.conns, id)
		slog.Info("Feed subscriber unregistered", "subscriber_id", id)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish sends ev to every subscriber concurrently, so one slow console
// costs at most one write timeout. Subscribers that fail to receive are
// dropped. A nil hub is a no-op.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.conns))
	for id, conn := range h.conns {
		targets[id] = conn
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for id, conn := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			defer cancel()
			if err := wsjson.Write(writeCtx, conn, ev); err != nil {
				slog.Warn("Dropping feed subscriber", "subscriber_id", id, "error", err)
				h.Unregister(id, conn)
				_ = conn.CloseNow()
			}
		}()
	}
	wg.Wait()
}

// CloseAll disconnects every subscriber without waiting for close handshakes.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.conns {
		_ = conn.CloseNow()
		delete(h.conns, id)
	}
}

// ServeHTTP upgrades the request and keeps the subscription open until the
// client disconnects. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Feed WebSocket accept failed", "error", err)
		return
	}

	id := uuid.NewString()
	h.Register(id, ws)
	defer h.Unregister(id, ws)

	ctx := ws.CloseRead(r.Context())
	<-ctx.Done()
}
