package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastReachesEverySubscriber(t *testing.T) {
	// Given two connected subscribers
	hub, url := newTestHub(t)
	a := dial(t, url)
	b := dial(t, url)
	waitForSubscribers(t, hub, 2)

	// When an event broadcasts
	hub.BroadcastEvent(TypeStatusUpdate, map[string]string{"job_id": "j1", "stage": "parsing"})

	// Then both receive it with a UTC ISO-8601 timestamp
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeStatusUpdate, msg.Type)
		ts, err := time.Parse(time.RFC3339, msg.Timestamp)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, ts.Location())
		assert.Contains(t, string(msg.Data), `"stage":"parsing"`)
	}
}

func TestHub_PerSubscriberOrderPreserved(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	for i := 0; i < 20; i++ {
		hub.BroadcastEvent(TypeLog, map[string]int{"seq": i})
	}

	for i := 0; i < 20; i++ {
		msg := readMessage(t, conn)
		var data map[string]int
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, i, data["seq"])
	}
}

func TestHub_PingGetsPong(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: TypePing, CorrelationID: "c-1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypePong, msg.Type)
	assert.Equal(t, "c-1", msg.CorrelationID)
}

func TestHub_RequestResponseEchoesCorrelationID(t *testing.T) {
	// Given a registered batch handler
	hub, url := newTestHub(t)
	hub.HandleRequest(TypeRegisterUploadBatch, TypeUploadBatchRegistered,
		func(_ context.Context, data json.RawMessage) (any, error) {
			var req struct {
				Files []string `json:"files"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, err
			}
			return map[string]int{"count": len(req.Files)}, nil
		})
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	// When the client sends a correlated request
	raw, _ := json.Marshal(map[string]any{"files": []string{"a.pdf", "b.pdf"}})
	require.NoError(t, conn.WriteJSON(Message{
		Type:          TypeRegisterUploadBatch,
		CorrelationID: "req-42",
		Data:          raw,
	}))

	// Then the response carries the same correlation id
	msg := readMessage(t, conn)
	assert.Equal(t, TypeUploadBatchRegistered, msg.Type)
	assert.Equal(t, "req-42", msg.CorrelationID)
	assert.Contains(t, string(msg.Data), `"count":2`)
}

func TestHub_HandlerErrorReturnsErrorMessage(t *testing.T) {
	hub, url := newTestHub(t)
	hub.HandleRequest(TypeRegisterUploadBatch, TypeUploadBatchRegistered,
		func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("registry down")
		})
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeRegisterUploadBatch, CorrelationID: "req-1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "req-1", msg.CorrelationID)
	assert.Contains(t, string(msg.Data), "registry down")
}

func TestHub_UnknownTypeRejected(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: "mystery", CorrelationID: "c"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, string(msg.Data), "unknown message type")
}

func TestHub_DisconnectRemovesSubscriber(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	conn.Close()

	waitForSubscribers(t, hub, 0)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	// Given a subscriber that never reads
	hub, url := newTestHub(t)
	_ = dial(t, url)
	waitForSubscribers(t, hub, 1)

	// When far more data broadcasts than its buffer and the socket can
	// absorb
	payload := strings.Repeat("x", 256<<10)
	require.Eventually(t, func() bool {
		hub.BroadcastEvent(TypeStats, map[string]string{"blob": payload})
		return hub.SubscriberCount() == 0
	}, 5*time.Second, time.Millisecond)
}

func TestHub_CloseSendsGoingAway(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForSubscribers(t, hub, 1)

	closeCode := make(chan int, 1)
	conn.SetCloseHandler(func(code int, _ string) error {
		closeCode <- code
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hub.Close()

	select {
	case code := <-closeCode:
		assert.Equal(t, websocket.CloseGoingAway, code)
	case <-time.After(3 * time.Second):
		t.Fatal("no close frame received")
	}

	// New connections are refused after close
	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, readErr := c2.ReadMessage()
		assert.Error(t, readErr)
		c2.Close()
	}
}
