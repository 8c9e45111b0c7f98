package chat

import (
	"encoding/json"
	"log"
)

// Message lifecycle states. Deleted messages stay in history as stubs.
const (
	StateActive  = "active"
	StateEdited  = "edited"
	StateDeleted = "deleted"
)

// Inbound is the envelope for every client→server event. Unused fields stay
// zero; Type decides which ones matter.
type Inbound struct {
	Type           string   `json:"type"`
	ConversationID int64    `json:"conversation_id,omitempty"`
	OtherUserID    int64    `json:"other_user_id,omitempty"`
	MessageID      int64    `json:"message_id,omitempty"`
	MessageIDs     []int64  `json:"message_ids,omitempty"`
	Text           string   `json:"text,omitempty"`
	LocalID        string   `json:"local_id,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
	IsTyping       bool     `json:"is_typing,omitempty"`
}

// WireMessage is the persisted message as pushed to clients.
type WireMessage struct {
	ID             int64    `json:"id"`
	ConversationID int64    `json:"conversation_id"`
	SenderID       int64    `json:"sender_id"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
	State          string   `json:"state"`
	CreatedAt      string   `json:"created_at"`
	EditedAt       string   `json:"edited_at,omitempty"`
	DeletedAt      string   `json:"deleted_at,omitempty"`
}

type messageEvent struct {
	Type    string      `json:"type"` // "message_new" or "message_update"
	Message WireMessage `json:"message"`
	// LocalID is echoed only on the sender's ack so the client can reconcile
	// its optimistic copy.
	LocalID string `json:"local_id,omitempty"`
}

type typingEvent struct {
	Type           string `json:"type"` // "typing"
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type readUpdateEvent struct {
	Type           string  `json:"type"` // "message_read_update"
	ConversationID int64   `json:"conversation_id"`
	UserID         int64   `json:"user_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

type presenceEvent struct {
	Type   string `json:"type"` // "presence"
	UserID int64  `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

type errorEvent struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
	LocalID string `json:"local_id,omitempty"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("[chat] marshal %T: %v", v, err)
		return nil
	}
	return b
}
