// Package delivery pushes messages to connected users and replays what they
// missed while offline. Pushing is best effort: every failure is logged and
// counted, never returned, because the message is already stored.
package delivery

import (
	"context"

	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"uk.co.dudmesh.roost/internal/model"
	"uk.co.dudmesh.roost/internal/presence"
	"uk.co.dudmesh.roost/internal/service/messaging"
)

const DefaultReplayLimit = 50

type Transport interface {
	PushToUser(ctx context.Context, address model.UserAddress, channel string, payload any) error
}

type MessagingService interface {
	GetConversation(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error)
	UnreadConversations(ctx context.Context, user model.UserID) ([]*model.Conversation, error)
	BacklogFor(ctx context.Context, id model.ConversationID, user model.UserID, limit int) (*messaging.Backlog, error)
}

type AddressBook interface {
	FindUserByID(ctx context.Context, id model.UserID) (*model.User, error)
}

type Outcome string

const (
	RoutedOnline   Outcome = "online"
	RoutedDeferred Outcome = "deferred"
)

type Router struct {
	messaging   MessagingService
	presence    presence.Registry
	users       AddressBook
	transport   Transport
	replayLimit int
	metrics     *metrics
	logger      *log.Logger
}

func NewRouter(svc MessagingService, registry presence.Registry, users AddressBook, transport Transport, replayLimit int, registerer prometheus.Registerer) *Router {
	if replayLimit < 1 {
		replayLimit = DefaultReplayLimit
	}
	return &Router{
		messaging:   svc,
		presence:    registry,
		users:       users,
		transport:   transport,
		replayLimit: replayLimit,
		metrics:     newMetrics(registerer),
		logger:      log.New("delivery"),
	}
}

func (r *Router) push(ctx context.Context, kind string, address model.UserAddress, channel string, payload any) bool {
	if err := r.transport.PushToUser(ctx, address, channel, payload); err != nil {
		r.logger.Warnf("pushing %s to %s on %s: %+v", kind, address, channel, err)
		r.metrics.pushes.WithLabelValues(kind, "error").Inc()
		return false
	}
	r.metrics.pushes.WithLabelValues(kind, "ok").Inc()
	return true
}

// recipient resolves the other participant's contact address when they are
// online, nil otherwise.
func (r *Router) recipient(ctx context.Context, sender model.UserID, conversationID model.ConversationID) *model.User {
	conversation, err := r.messaging.GetConversation(ctx, conversationID, sender)
	if err != nil {
		r.logger.Errorf("resolving conversation %s for routing: %+v", conversationID, err)
		return nil
	}

	other := conversation.Other(sender)
	online, err := r.presence.IsOnline(ctx, other)
	if err != nil {
		r.logger.Warnf("checking presence of %s: %+v", other, err)
		return nil
	}
	if !online {
		return nil
	}

	user, err := r.users.FindUserByID(ctx, other)
	if err != nil {
		r.logger.Warnf("resolving address of %s: %+v", other, err)
		return nil
	}
	return user
}

// Route pushes a freshly sent message to the other participant when they are
// online, and always confirms the send on the sender's own channel. An offline
// recipient picks the message up on their next ReplayMissed.
func (r *Router) Route(ctx context.Context, sender model.User, message *model.Message) Outcome {
	outcome := RoutedDeferred
	if recipient := r.recipient(ctx, sender.ID, message.ConversationID); recipient != nil {
		outcome = RoutedOnline
		r.push(ctx, "message", recipient.Address, ConversationChannel(message.ConversationID), message)
		r.push(ctx, "message", recipient.Address, MessagesChannel, message)
	}
	r.push(ctx, "confirmation", sender.Address, SentChannel, message)

	r.metrics.routes.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// RouteEdit tells an online recipient that a message changed.
func (r *Router) RouteEdit(ctx context.Context, editor model.User, message *model.Message) Outcome {
	recipient := r.recipient(ctx, editor.ID, message.ConversationID)
	if recipient == nil {
		return RoutedDeferred
	}
	r.push(ctx, "edit", recipient.Address, ConversationChannel(message.ConversationID), message)
	r.push(ctx, "edit", recipient.Address, EditedChannel, message)
	return RoutedOnline
}

// ReplayMissed pushes, for every conversation with unread messages, at most the
// replay limit of the newest unread messages, oldest first. Read state is not
// touched. Returns how many messages were pushed.
func (r *Router) ReplayMissed(ctx context.Context, user model.User) int {
	conversations, err := r.messaging.UnreadConversations(ctx, user.ID)
	if err != nil {
		r.logger.Errorf("listing unread conversations of %s: %+v", user.ID, err)
		return 0
	}

	pushed := 0
	for _, conversation := range conversations {
		backlog, err := r.messaging.BacklogFor(ctx, conversation.ID, user.ID, r.replayLimit)
		if err != nil {
			r.logger.Errorf("loading backlog of %s for %s: %+v", conversation.ID, user.ID, err)
			continue
		}
		for _, message := range backlog.Messages {
			ok := r.push(ctx, "replay", user.Address, ConversationChannel(conversation.ID), message)
			ok = r.push(ctx, "replay", user.Address, MessagesChannel, message) || ok
			if ok {
				pushed++
			}
		}
	}

	if pushed > 0 {
		r.logger.Infof("replayed %d messages to %s", pushed, user.ID)
		r.metrics.replayed.Add(float64(pushed))
	}
	return pushed
}

// Connected is the connection-open hook. The first connection of a user marks
// them online.
func (r *Router) Connected(ctx context.Context, user model.User, first bool) {
	if !first {
		return
	}
	if err := r.presence.SetOnline(ctx, user.ID); err != nil {
		r.logger.Errorf("setting %s online: %+v", user.ID, err)
	}
}

// Ready runs once a connection is registered. Every new connection gets the
// replay, since it starts empty.
func (r *Router) Ready(ctx context.Context, user model.User) {
	r.ReplayMissed(ctx, user)
}

// Disconnected is the connection-close hook.
func (r *Router) Disconnected(ctx context.Context, user model.User, last bool) {
	if !last {
		return
	}
	if err := r.presence.SetOffline(ctx, user.ID); err != nil {
		r.logger.Errorf("setting %s offline: %+v", user.ID, err)
	}
}

func (r *Router) Heartbeat(ctx context.Context, user model.User) {
	if err := r.presence.Touch(ctx, user.ID); err != nil {
		r.logger.Warnf("renewing presence of %s: %+v", user.ID, err)
	}
}
