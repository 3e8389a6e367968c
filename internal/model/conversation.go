package model

import "time"

type ConversationID string

// Conversation pairs two participants over one listing. ParticipantA is the
// initiator; lookups never depend on that order (see PairKey).
type Conversation struct {
	ID            ConversationID `db:"id" json:"id"`
	ParticipantA  UserID         `db:"participant_a" json:"participantA"`
	ParticipantB  UserID         `db:"participant_b" json:"participantB"`
	PairKey       string         `db:"pair_key" json:"-"`
	ListingID     ListingID      `db:"listing_id" json:"listingId"`
	Active        bool           `db:"active" json:"active"`
	MessageSeq    int64          `db:"message_seq" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	LastMessageAt time.Time      `db:"last_message_at" json:"lastMessageAt"`
}

// PairKey is the order-independent key of an unordered participant pair.
func PairKey(a, b UserID) string {
	if a < b {
		return string(a) + ":" + string(b)
	}
	return string(b) + ":" + string(a)
}

func (c *Conversation) HasParticipant(id UserID) bool {
	return c.ParticipantA == id || c.ParticipantB == id
}

// Other returns the participant that is not id.
func (c *Conversation) Other(id UserID) UserID {
	if c.ParticipantA == id {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c *Conversation) Participants() []UserID {
	return []UserID{c.ParticipantA, c.ParticipantB}
}

// ConversationSummary is the list view of a conversation for one viewer.
type ConversationSummary struct {
	Conversation
	OtherUserID   UserID   `json:"otherUserId"`
	LatestMessage *Message `json:"latestMessage"`
	UnreadCount   int      `json:"unreadCount"`
}
