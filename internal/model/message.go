package model

import (
	"strings"
	"time"
)

type MessageID string

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
)

// messageTypes maps each type to whether clients may send it. SYSTEM messages
// are written by the server only.
var messageTypes = map[MessageType]bool{
	MessageTypeText:   true,
	MessageTypeSystem: false,
}

// ParseMessageType reads a client supplied type name case-insensitively; empty
// means TEXT.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return MessageTypeText, nil
	}
	t := MessageType(strings.ToUpper(s))
	sendable, known := messageTypes[t]
	if !known {
		return "", ErrorUnknownType
	}
	if !sendable {
		return "", ErrorReservedType
	}
	return t, nil
}

func (t MessageType) ClientSendable() bool {
	return messageTypes[t]
}

type StatusValue string

const (
	StatusSent      StatusValue = "SENT"
	StatusDelivered StatusValue = "DELIVERED"
	StatusRead      StatusValue = "READ"
)

// Message is append-only within its conversation. Seq is the conversation-local
// position and breaks ties between equal SentAt values.
type Message struct {
	ID             MessageID      `db:"id" json:"id"`
	ConversationID ConversationID `db:"conversation_id" json:"conversationId"`
	Seq            int64          `db:"seq" json:"seq"`
	SenderID       UserID         `db:"sender_id" json:"senderId"`
	Content        string         `db:"content" json:"content"`
	Type           MessageType    `db:"message_type" json:"type"`
	SentAt         time.Time      `db:"sent_at" json:"sentAt"`
	Edited         bool           `db:"edited" json:"edited"`
	EditedAt       *time.Time     `db:"edited_at" json:"editedAt,omitempty"`
}

// MessageStatus is per viewing user. READ rows are added next to the creation
// row, never in place of it.
type MessageStatus struct {
	MessageID MessageID   `db:"message_id" json:"messageId"`
	UserID    UserID      `db:"user_id" json:"userId"`
	Status    StatusValue `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
