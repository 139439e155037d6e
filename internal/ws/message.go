// Package ws implements the single-process WebSocket fan-out: a hub of
// subscribers receiving broadcast status events, plus a small
// request/response pattern keyed by client correlation ids.
package ws

import (
	"encoding/json"
	"time"
)

// Broadcast and response message types.
const (
	TypeStatusUpdate          = "status_update"
	TypeProcessingUpdate      = "processing_update"
	TypeLog                   = "log"
	TypeStats                 = "stats"
	TypeProcessingComplete    = "processing_complete"
	TypeProcessingError       = "processing_error"
	TypeUploadBatchRegistered = "upload_batch_registered"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Inbound request types.
const (
	TypePing                = "ping"
	TypeRegisterUploadBatch = "register_upload_batch"
)

// Message is the wire envelope in both directions. Timestamps are
// ISO-8601 UTC.
type Message struct {
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds an outbound message, stamping the current time and
// marshalling the payload.
func NewMessage(msgType string, data any) (Message, error) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}
