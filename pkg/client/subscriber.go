package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Reconnect schedule: delays double from 1s, capped at 30s, and the
// subscriber gives up after 10 consecutive failed attempts.
const (
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
	reconnectMaxAttempts = 10

	requestTimeout = 10 * time.Second

	eventBufferSize = 64
)

// ErrNotConnected is returned by requests while the subscriber has no
// live connection.
var ErrNotConnected = errors.New("websocket not connected")

// Event is one message from the server's event stream.
type Event struct {
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// ProcessingUpdate is the payload of a processing_update event.
type ProcessingUpdate struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// StatsEvent is the payload of a stats event.
type StatsEvent struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger attaches a logger.
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) SubscriberOption {
	return func(s *Subscriber) { s.dialer = d }
}

// Subscriber maintains a WebSocket connection to the server's /ws
// endpoint, reconnecting with exponential backoff. Broadcast events
// surface on Events; correlated request/response calls go through
// RegisterUploadBatch and Ping.
type Subscriber struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Event
	closed  bool
}

// NewSubscriber creates a subscriber for the server at baseURL. The
// scheme is rewritten for WebSocket and /ws appended.
func NewSubscriber(baseURL string, opts ...SubscriberOption) *Subscriber {
	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	s := &Subscriber{
		url:     wsURL + "/ws",
		dialer:  websocket.DefaultDialer,
		logger:  slog.Default(),
		events:  make(chan Event, eventBufferSize),
		pending: make(map[string]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the broadcast stream. Events arriving while the buffer is
// full are dropped; the stream is a live view, not a durable log.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Run connects and pumps events until ctx is cancelled, Close is
// called, or the reconnect budget is exhausted. A successful
// connection resets the attempt counter.
func (s *Subscriber) Run(ctx context.Context) error {
	attempts := 0
	delay := reconnectBaseDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.isClosed() {
			return nil
		}

		conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			attempts++
			if attempts >= reconnectMaxAttempts {
				return fmt.Errorf("websocket: giving up after %d attempts: %w", attempts, err)
			}
			s.logger.Debug("websocket dial failed, retrying",
				"attempt", attempts, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		attempts = 0
		delay = reconnectBaseDelay
		s.setConn(conn)
		s.logger.Debug("websocket connected", "url", s.url)

		err = s.readLoop(ctx, conn)
		s.setConn(nil)
		if s.isClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("websocket disconnected", "error", err)
	}
}

// readLoop pumps messages from one connection until it fails.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			conn.Close()
			return err
		}
		s.dispatch(ev)
	}
}

// dispatch routes a correlated reply to its waiter, everything else to
// the broadcast channel.
func (s *Subscriber) dispatch(ev Event) {
	if ev.CorrelationID != "" {
		s.mu.Lock()
		ch, ok := s.pending[ev.CorrelationID]
		if ok {
			delete(s.pending, ev.CorrelationID)
		}
		s.mu.Unlock()
		if ok {
			ch <- ev
			return
		}
	}
	select {
	case s.events <- ev:
	default:
		// Slow consumer: drop rather than stall the read loop.
	}
}

// RegisterUploadBatch registers filenames ahead of upload and returns
// the assigned doc ids plus duplicate flags.
func (s *Subscriber) RegisterUploadBatch(ctx context.Context, files []FileSpec, forceUpload bool) ([]BatchRegistration, error) {
	payload := map[string]any{
		"files":        files,
		"force_upload": forceUpload,
	}
	reply, err := s.request(ctx, "register_upload_batch", payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		Registrations []BatchRegistration `json:"registrations"`
	}
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return nil, fmt.Errorf("decode registrations: %w", err)
	}
	return out.Registrations, nil
}

// Ping round-trips a ping through the server.
func (s *Subscriber) Ping(ctx context.Context) error {
	_, err := s.request(ctx, "ping", nil)
	return err
}

// request sends one correlated request and waits for its reply.
func (s *Subscriber) request(ctx context.Context, msgType string, payload any) (Event, error) {
	corrID := uuid.NewString()
	msg := Event{
		Type:          msgType,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: corrID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		msg.Data = raw
	}

	reply := make(chan Event, 1)
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return Event{}, ErrNotConnected
	}
	s.pending[corrID] = reply
	err := conn.WriteJSON(msg)
	s.mu.Unlock()
	if err != nil {
		s.dropPending(corrID)
		return Event{}, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case ev := <-reply:
		if ev.Type == "error" {
			var body struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			}
			_ = json.Unmarshal(ev.Data, &body)
			if body.Message == "" {
				body.Message = "request failed"
			}
			return Event{}, fmt.Errorf("%s: %s", msgType, body.Message)
		}
		return ev, nil
	case <-timer.C:
		s.dropPending(corrID)
		return Event{}, fmt.Errorf("%s: timed out after %s", msgType, requestTimeout)
	case <-ctx.Done():
		s.dropPending(corrID)
		return Event{}, ctx.Err()
	}
}

// Close tears the connection down and stops reconnecting.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (s *Subscriber) dropPending(corrID string) {
	s.mu.Lock()
	delete(s.pending, corrID)
	s.mu.Unlock()
}

func (s *Subscriber) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
