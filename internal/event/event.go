// Package event defines the tagged-union envelope for inbound push
// events and decodes raw frames at the transport boundary, so internal
// logic never inspects untyped fields.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bazaarhq/livesync/internal/notify"
)

// Kind discriminates the envelope payload.
type Kind string

const (
	KindNotification Kind = "notification"
	KindBulkReplay   Kind = "bulk_replay"
	KindChatMessage  Kind = "chat_message"
	KindUnreadCount  Kind = "unread_count"
)

// ChatMessage is the wire shape of an inbound chat message.
type ChatMessage struct {
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// Envelope is one decoded inbound event. Exactly one payload field is
// populated, selected by Kind.
type Envelope struct {
	Kind         Kind
	Notification *notify.Record
	Replay       []notify.Record
	Chat         *ChatMessage
	Unread       int
}

// Decode parses a raw push frame into an Envelope. Missing payload
// fields decode to zero values and are kept as safe defaults; only a
// missing or unknown kind makes the frame undecodable, since it cannot
// be routed.
func Decode(data []byte) (Envelope, error) {
	kind := gjson.GetBytes(data, "kind").Str
	payload := gjson.GetBytes(data, "payload")

	switch Kind(kind) {
	case KindNotification:
		var rec notify.Record
		if payload.Exists() {
			if err := json.Unmarshal([]byte(payload.Raw), &rec); err != nil {
				return Envelope{}, fmt.Errorf("decoding notification payload: %w", err)
			}
		}
		return Envelope{Kind: KindNotification, Notification: &rec}, nil

	case KindBulkReplay:
		var recs []notify.Record
		if payload.Exists() {
			if err := json.Unmarshal([]byte(payload.Raw), &recs); err != nil {
				return Envelope{}, fmt.Errorf("decoding bulk replay payload: %w", err)
			}
		}
		return Envelope{Kind: KindBulkReplay, Replay: recs}, nil

	case KindChatMessage:
		var msg ChatMessage
		if payload.Exists() {
			if err := json.Unmarshal([]byte(payload.Raw), &msg); err != nil {
				return Envelope{}, fmt.Errorf("decoding chat payload: %w", err)
			}
		}
		return Envelope{Kind: KindChatMessage, Chat: &msg}, nil

	case KindUnreadCount:
		return Envelope{Kind: KindUnreadCount, Unread: int(payload.Int())}, nil

	default:
		return Envelope{}, fmt.Errorf("unroutable event kind %q", kind)
	}
}

// Encode serializes an Envelope to the wire format. Used by the dev
// server and by tests feeding frames into the connection manager.
func (e Envelope) Encode() ([]byte, error) {
	frame := struct {
		Kind    Kind        `json:"kind"`
		Payload interface{} `json:"payload,omitempty"`
	}{Kind: e.Kind}

	switch e.Kind {
	case KindNotification:
		frame.Payload = e.Notification
	case KindBulkReplay:
		frame.Payload = e.Replay
	case KindChatMessage:
		frame.Payload = e.Chat
	case KindUnreadCount:
		frame.Payload = e.Unread
	}

	return json.Marshal(frame)
}
