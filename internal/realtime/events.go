// Package realtime implements the /chat websocket namespace: a per-process
// hub of authenticated connections grouped into conversation rooms, a broker
// that fans events out across processes, and a reconnecting Go client.
//
// Every frame on the wire is a JSON object {"event", "id", "data"}. Client
// events are acknowledged with an "ack" frame carrying the same id.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/casasegura/backend/internal/domain"
)

// Client to server events.
const (
	EventJoin        = "join_conversation"
	EventLeave       = "leave_conversation"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventMarkRead    = "mark_read"
)

// Server to client events.
const (
	EventAck             = "ack"
	EventUnreadCount     = "unread_count"
	EventNewMessage      = "new_message"
	EventUserTyping      = "user_typing"
	EventMessagesRead    = "messages_read"
	EventNewNotification = "new_notification"
)

// Frame is one websocket message.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConversationRef addresses a conversation.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage is the payload of send_message.
type SendMessage struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           domain.MessageType `json:"type,omitempty"`
	FileURL        string             `json:"fileUrl,omitempty"`
}

// Ack answers a client event.
type Ack struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnreadCount is pushed on connect and whenever the count changes.
type UnreadCount struct {
	Count int64 `json:"count"`
}

// UserTyping is relayed to the rest of a room.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// MessagesRead tells the sender that the other participant read up to now.
type MessagesRead struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
	Count          int64     `json:"count"`
}

func encodeFrame(event, id string, data any) ([]byte, error) {
	f := Frame{Event: event, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}
