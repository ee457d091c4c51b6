package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeEvent       MessageType = "event"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionPayload names the document a subscribe or unsubscribe
// applies to.
type SubscriptionPayload struct {
	DocumentID string `json:"document_id"`
}

// EventPayload is one entry on the feed: replica lifecycle, hydration,
// sync and snapshot status changes. DocumentID is empty on engine-wide
// events such as a session change.
type EventPayload struct {
	DocumentID string          `json:"document_id,omitempty"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
