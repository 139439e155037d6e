package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendBufferSize is each subscriber's outbound queue. A subscriber
	// whose buffer saturates is disconnected rather than allowed to
	// stall the hub.
	sendBufferSize = 64

	// requestTimeout bounds a single request/response handler.
	requestTimeout = 10 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	maxInboundBytes = 1 << 20
)

// RequestHandler serves one inbound request type and returns the
// response payload.
type RequestHandler func(ctx context.Context, data json.RawMessage) (any, error)

// Hub is the single-process broadcaster. Broadcasts to one subscriber
// preserve emission order; cross-subscriber ordering is not guaranteed.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]bool
	closed      bool

	handlersMu sync.RWMutex
	handlers   map[string]handlerEntry
}

type handlerEntry struct {
	responseType string
	fn           RequestHandler
}

// subscriber's send channel is never closed; the done channel signals
// the write pump to exit so concurrent senders can never hit a closed
// channel.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub creates a hub. The upgrader accepts any origin; CORS policy is
// enforced at the HTTP layer.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:      logger.With("component", "ws"),
		subscribers: map[*subscriber]bool{},
		handlers:    map[string]handlerEntry{},
	}
}

// HandleRequest registers the handler for an inbound request type. The
// response is sent only to the requesting subscriber, echoing its
// correlation id.
func (h *Hub) HandleRequest(requestType, responseType string, fn RequestHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[requestType] = handlerEntry{responseType: responseType, fn: fn}
}

// ServeWS upgrades an HTTP request and runs the connection until it
// drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.subscribers[sub] = true
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("subscriber connected", slog.Int("subscribers", count))

	go h.writePump(sub)
	h.readPump(sub)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast sends a message to every subscriber. Delivery is
// best-effort: a subscriber whose queue is full is dropped.
func (h *Hub) Broadcast(msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshalling broadcast failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	var slow []*subscriber
	for sub := range h.subscribers {
		select {
		case sub.send <- raw:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow websocket subscriber")
		sub.close()
	}
}

// BroadcastEvent builds and broadcasts a message in one step.
func (h *Hub) BroadcastEvent(msgType string, data any) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		h.logger.Error("building broadcast failed", slog.String("error", err.Error()))
		return
	}
	h.Broadcast(msg)
}

// Close disconnects every subscriber with a going-away frame and
// rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = map[*subscriber]bool{}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		sub.close()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadLimit(maxInboundBytes)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendTo(sub, TypeError, msg.CorrelationID, map[string]string{"error": "malformed message"})
			continue
		}
		h.dispatch(sub, msg)
	}
}

// dispatch routes one inbound message. Requests run in their own
// goroutine so a slow handler never blocks the read loop.
func (h *Hub) dispatch(sub *subscriber, msg Message) {
	if msg.Type == TypePing {
		h.sendTo(sub, TypePong, msg.CorrelationID, nil)
		return
	}

	h.handlersMu.RLock()
	entry, ok := h.handlers[msg.Type]
	h.handlersMu.RUnlock()
	if !ok {
		h.sendTo(sub, TypeError, msg.CorrelationID, map[string]string{
			"error": "unknown message type: " + msg.Type,
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		result, err := entry.fn(ctx, msg.Data)
		if err != nil {
			h.sendTo(sub, TypeError, msg.CorrelationID, map[string]string{"error": err.Error()})
			return
		}
		h.sendTo(sub, entry.responseType, msg.CorrelationID, result)
	}()
}

// sendTo queues a message for one subscriber only.
func (h *Hub) sendTo(sub *subscriber, msgType, correlationID string, data any) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		h.logger.Error("building response failed", slog.String("error", err.Error()))
		return
	}
	msg.CorrelationID = correlationID
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-sub.done:
	case sub.send <- raw:
	default:
		h.remove(sub)
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.close()
	}()

	for {
		select {
		case <-sub.done:
			return
		case raw := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
