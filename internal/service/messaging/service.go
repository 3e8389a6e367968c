// Package messaging is the orchestrator behind every conversation and message
// operation. Each operation re-resolves the conversation for the calling user
// before touching messages, so the store's participant check is the only
// access gate.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.roost/internal/cache"
	"uk.co.dudmesh.roost/internal/model"
	"uk.co.dudmesh.roost/internal/presence"
)

type ConversationStore interface {
	CreateOrGet(ctx context.Context, initiator, other model.UserID, listingID model.ListingID) (*model.Conversation, bool, error)
	FindForUser(ctx context.Context, user model.UserID) ([]*model.Conversation, error)
	FindPageForUser(ctx context.Context, user model.UserID, request model.PageRequest) (*model.Page[*model.Conversation], error)
	FindByIDForParticipant(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error)
	Deactivate(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error)
}

type MessageStore interface {
	Append(ctx context.Context, conversation *model.Conversation, sender model.UserID, content string, messageType model.MessageType) (*model.Message, error)
	All(ctx context.Context, conversationID model.ConversationID) ([]*model.Message, error)
	Page(ctx context.Context, conversationID model.ConversationID, request model.PageRequest) (*model.Page[*model.Message], error)
	Since(ctx context.Context, conversationID model.ConversationID, since time.Time) ([]*model.Message, error)
	Latest(ctx context.Context, conversationID model.ConversationID) (*model.Message, error)
	Get(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID) (*model.Message, error)
	UnreadRecent(ctx context.Context, conversationID model.ConversationID, user model.UserID, limit int) ([]*model.Message, error)
	UnreadCount(ctx context.Context, conversationID model.ConversationID, user model.UserID) (int, error)
	UnreadCounts(ctx context.Context, user model.UserID) (map[model.ConversationID]int, error)
	MarkRead(ctx context.Context, conversationID model.ConversationID, user model.UserID) (int64, error)
	MarkMessageRead(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID, user model.UserID) (bool, error)
	Edit(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID, editor model.UserID, content string) (*model.Message, error)
	StatusFor(ctx context.Context, messageID model.MessageID, user model.UserID) (model.StatusValue, error)
	Statuses(ctx context.Context, messageID model.MessageID) ([]*model.MessageStatus, error)
}

type ListingLookup interface {
	FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error)
}

type service struct {
	conversations ConversationStore
	messages      MessageStore
	listings      ListingLookup
	presence      presence.Registry
	views         *views
	logger        *log.Logger
}

func New(conversations ConversationStore, messages MessageStore, listings ListingLookup, registry presence.Registry, c cache.Cache) *service {
	logger := log.New("messaging")
	return &service{
		conversations: conversations,
		messages:      messages,
		listings:      listings,
		presence:      registry,
		views:         newViews(c, logger),
		logger:        logger,
	}
}

func (s *service) CreateOrGetConversation(ctx context.Context, initiator, other model.UserID, listingID model.ListingID) (*model.Conversation, error) {
	conversation, created, err := s.conversations.CreateOrGet(ctx, initiator, other, listingID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Infof("conversation %s opened about listing %s", conversation.ID, listingID)
	}
	// a reactivated conversation also reappears in both lists
	s.views.afterMembershipChange(ctx, conversation)
	return conversation, nil
}

// ListConversations returns the user's active conversations, most recently
// active first, with the latest message and the user's unread count.
func (s *service) ListConversations(ctx context.Context, user model.UserID) ([]*model.ConversationSummary, error) {
	return readThrough(ctx, s.views, cache.Conversations, user, func() ([]*model.ConversationSummary, error) {
		conversations, err := s.conversations.FindForUser(ctx, user)
		if err != nil {
			return nil, err
		}
		return s.summarise(ctx, user, conversations)
	})
}

func (s *service) ListConversationPage(ctx context.Context, user model.UserID, request model.PageRequest) (*model.Page[*model.ConversationSummary], error) {
	page, err := s.conversations.FindPageForUser(ctx, user, request)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarise(ctx, user, page.Items)
	if err != nil {
		return nil, err
	}
	return &model.Page[*model.ConversationSummary]{Items: summaries, Page: page.Page, Size: page.Size, Total: page.Total}, nil
}

func (s *service) summarise(ctx context.Context, user model.UserID, conversations []*model.Conversation) ([]*model.ConversationSummary, error) {
	counts, err := s.messages.UnreadCounts(ctx, user)
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		latest, err := s.messages.Latest(ctx, conversation.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &model.ConversationSummary{
			Conversation:  *conversation,
			OtherUserID:   conversation.Other(user),
			LatestMessage: latest,
			UnreadCount:   counts[conversation.ID],
		})
	}
	return summaries, nil
}

func (s *service) GetConversation(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error) {
	return s.conversations.FindByIDForParticipant(ctx, id, user)
}

func (s *service) DeactivateConversation(ctx context.Context, id model.ConversationID, user model.UserID) error {
	conversation, err := s.conversations.Deactivate(ctx, id, user)
	if err != nil {
		return err
	}
	s.views.afterMembershipChange(ctx, conversation)
	return nil
}

// ValidateConversationIntegrity reports whether the conversation's listing has
// been removed or deactivated since the conversation was opened. It never
// changes the conversation.
func (s *service) ValidateConversationIntegrity(ctx context.Context, id model.ConversationID, user model.UserID) error {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return err
	}
	listing, err := s.listings.FindListingByID(ctx, conversation.ListingID)
	if err != nil {
		return fmt.Errorf("finding listing: %w", err)
	}
	if listing == nil {
		return model.ErrorListingNoLongerExists
	}
	if !listing.Active {
		return model.ErrorListingNoLongerActive
	}
	return nil
}

// SendMessage stores the message and refreshes both participants' views. Real
// time delivery is left to the caller.
func (s *service) SendMessage(ctx context.Context, id model.ConversationID, sender model.UserID, content string, messageType model.MessageType) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, model.ErrorEmptyContent
	}
	if messageType == "" {
		messageType = model.MessageTypeText
	}
	if !messageType.ClientSendable() {
		return nil, model.ErrorReservedType
	}

	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, sender)
	if err != nil {
		return nil, err
	}
	message, err := s.messages.Append(ctx, conversation, sender, content, messageType)
	if err != nil {
		return nil, err
	}
	s.views.afterSend(ctx, conversation)
	return message, nil
}

func (s *service) SendText(ctx context.Context, id model.ConversationID, sender model.UserID, content string) (*model.Message, error) {
	return s.SendMessage(ctx, id, sender, content, model.MessageTypeText)
}

func (s *service) EditMessage(ctx context.Context, id model.ConversationID, messageID model.MessageID, editor model.UserID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, model.ErrorEmptyContent
	}

	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, editor)
	if err != nil {
		return nil, err
	}
	message, err := s.messages.Edit(ctx, conversation.ID, messageID, editor, content)
	if err != nil {
		return nil, err
	}
	// the edit may be the latest message preview
	s.views.afterMembershipChange(ctx, conversation)
	return message, nil
}

// ListMessages returns the whole history oldest-first.
func (s *service) ListMessages(ctx context.Context, id model.ConversationID, user model.UserID) ([]*model.Message, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	return s.messages.All(ctx, conversation.ID)
}

// ListMessagePage returns one page of history newest-first.
func (s *service) ListMessagePage(ctx context.Context, id model.ConversationID, user model.UserID, request model.PageRequest) (*model.Page[*model.Message], error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	return s.messages.Page(ctx, conversation.ID, request)
}

func (s *service) RecentMessages(ctx context.Context, id model.ConversationID, user model.UserID, since time.Time) ([]*model.Message, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	return s.messages.Since(ctx, conversation.ID, since)
}

func (s *service) MarkMessagesAsRead(ctx context.Context, id model.ConversationID, user model.UserID) (int64, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return 0, err
	}
	marked, err := s.messages.MarkRead(ctx, conversation.ID, user)
	if err != nil {
		return 0, err
	}
	s.views.afterRead(ctx, user)
	return marked, nil
}

func (s *service) MarkMessageRead(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) (bool, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return false, err
	}
	marked, err := s.messages.MarkMessageRead(ctx, conversation.ID, messageID, user)
	if err != nil {
		return false, err
	}
	if marked {
		s.views.afterRead(ctx, user)
	}
	return marked, nil
}

func (s *service) StatusFor(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) (model.StatusValue, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return "", err
	}
	if _, err := s.messages.Get(ctx, conversation.ID, messageID); err != nil {
		return "", err
	}
	return s.messages.StatusFor(ctx, messageID, user)
}

// StatusHistory lists every status row of the message, both participants included.
func (s *service) StatusHistory(ctx context.Context, id model.ConversationID, messageID model.MessageID, user model.UserID) ([]*model.MessageStatus, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if _, err := s.messages.Get(ctx, conversation.ID, messageID); err != nil {
		return nil, err
	}
	return s.messages.Statuses(ctx, messageID)
}

func (s *service) UnreadCount(ctx context.Context, id model.ConversationID, user model.UserID) (int, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, conversation.ID, user)
}

// GetTotalUnreadMessageCount sums unread messages over every conversation the
// user takes part in, including deactivated ones.
func (s *service) GetTotalUnreadMessageCount(ctx context.Context, user model.UserID) (int, error) {
	return readThrough(ctx, s.views, cache.UnreadCounts, user, func() (int, error) {
		counts, err := s.messages.UnreadCounts(ctx, user)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, count := range counts {
			total += count
		}
		return total, nil
	})
}

// Backlog is the unread tail of one conversation.
type Backlog struct {
	Conversation *model.Conversation
	Unread       int
	Messages     []*model.Message
}

// UnreadConversations lists the conversations holding unread messages for the
// user, oldest first so replay follows the order messages arrived.
func (s *service) UnreadConversations(ctx context.Context, user model.UserID) ([]*model.Conversation, error) {
	counts, err := s.messages.UnreadCounts(ctx, user)
	if err != nil {
		return nil, err
	}

	conversations := make([]*model.Conversation, 0, len(counts))
	for id, count := range counts {
		if count == 0 {
			continue
		}
		conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
		if err != nil {
			s.logger.Warnf("resolving unread conversation %s for %s: %+v", id, user, err)
			continue
		}
		conversations = append(conversations, conversation)
	}
	sort.Slice(conversations, func(i, j int) bool {
		if conversations[i].LastMessageAt.Equal(conversations[j].LastMessageAt) {
			return conversations[i].ID < conversations[j].ID
		}
		return conversations[i].LastMessageAt.Before(conversations[j].LastMessageAt)
	})
	return conversations, nil
}

// BacklogFor returns at most limit of the newest unread messages of one
// conversation, oldest-first. Nothing is marked read.
func (s *service) BacklogFor(ctx context.Context, id model.ConversationID, user model.UserID, limit int) (*Backlog, error) {
	conversation, err := s.conversations.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadCount(ctx, conversation.ID, user)
	if err != nil {
		return nil, err
	}
	backlog := &Backlog{Conversation: conversation, Unread: unread, Messages: []*model.Message{}}
	if unread == 0 {
		return backlog, nil
	}
	backlog.Messages, err = s.messages.UnreadRecent(ctx, conversation.ID, user, limit)
	if err != nil {
		return nil, err
	}
	return backlog, nil
}

func (s *service) IsOnline(ctx context.Context, user model.UserID) (bool, error) {
	return s.presence.IsOnline(ctx, user)
}

func (s *service) OnlineCount(ctx context.Context) (int, error) {
	return s.presence.OnlineCount(ctx)
}
