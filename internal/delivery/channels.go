package delivery

import "uk.co.dudmesh.roost/internal/model"

// Channels a client subscribes to. Messages go to both the conversation
// channel and the general one so clients can listen at either granularity.
const (
	MessagesChannel = "/queue/messages"
	SentChannel     = "/queue/message-sent"
	EditedChannel   = "/queue/message-edited"
)

func ConversationChannel(id model.ConversationID) string {
	return "/queue/conversations/" + string(id)
}
