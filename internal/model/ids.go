package model

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
)

// CreateID returns a random UUID in base58, short enough for URLs.
func CreateID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}

func NewConversationID() ConversationID {
	return ConversationID(CreateID())
}

func NewMessageID() MessageID {
	return MessageID(CreateID())
}
