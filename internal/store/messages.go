package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"uk.co.dudmesh.roost/internal/model"
)

const messageColumns = `m.id, m.conversation_id, m.seq, m.sender_id, m.content, m.message_type, m.sent_at, m.edited, m.edited_at`

// unreadClause selects the messages of a conversation the viewer has not read.
// An absent status row counts as unread. SYSTEM messages are never unread.
const unreadClause = `m.sender_id <> ? and m.message_type <> 'SYSTEM' and not exists (
	select 1 from message_statuses s
	where s.message_id = m.id and s.user_id = ? and s.status = 'READ')`

// Messages is the append-only message store. It trusts its callers to have
// resolved the conversation through an access-checked lookup.
type Messages struct {
	db    *sqlx.DB
	locks *stripedLock
}

func NewMessages(db *sqlx.DB) *Messages {
	return &Messages{db: db, locks: &stripedLock{}}
}

// Append stores a message, bumps the conversation's position and last message
// time and writes one status row per participant, all in one transaction.
func (s *Messages) Append(ctx context.Context, conversation *model.Conversation, sender model.UserID, content string, messageType model.MessageType) (*model.Message, error) {
	unlock := s.locks.lock(string(conversation.ID))
	defer unlock()

	var message *model.Message
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		message, err = appendMessage(ctx, tx, conversation, sender, content, messageType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func appendMessage(ctx context.Context, tx *sqlx.Tx, conversation *model.Conversation, sender model.UserID, content string, messageType model.MessageType) (*model.Message, error) {
	// the update takes the conversation's write lock before anything is read
	res, err := tx.ExecContext(ctx, tx.Rebind(`update conversations set message_seq = message_seq + 1 where id = ?`), conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("advancing message sequence: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return nil, model.ErrorConversationNotFoundOrForbidden
	}

	var position struct {
		Seq           int64     `db:"message_seq"`
		LastMessageAt time.Time `db:"last_message_at"`
	}
	err = tx.GetContext(ctx, &position, tx.Rebind(`select message_seq, last_message_at from conversations where id = ?`), conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("reading message sequence: %w", err)
	}

	// sent time never goes backwards within a conversation
	sentAt := now()
	if sentAt.Before(position.LastMessageAt) {
		sentAt = position.LastMessageAt
	}

	message := &model.Message{
		ID:             model.NewMessageID(),
		ConversationID: conversation.ID,
		Seq:            position.Seq,
		SenderID:       sender,
		Content:        content,
		Type:           messageType,
		SentAt:         sentAt,
	}
	_, err = tx.NamedExecContext(ctx, `insert into messages
		(id, conversation_id, seq, sender_id, content, message_type, sent_at, edited)
		values(:id, :conversation_id, :seq, :sender_id, :content, :message_type, :sent_at, :edited)`, message)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`update conversations set last_message_at = ? where id = ?`), sentAt, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("updating last message time: %w", err)
	}

	for _, participant := range conversation.Participants() {
		status := model.StatusDelivered
		if participant == sender {
			status = model.StatusSent
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`insert into message_statuses (message_id, user_id, status, created_at) values(?, ?, ?, ?)`),
			message.ID, participant, status, sentAt)
		if err != nil {
			return nil, fmt.Errorf("inserting %s status: %w", status, err)
		}
	}

	conversation.MessageSeq = position.Seq
	conversation.LastMessageAt = sentAt
	return message, nil
}

// All returns the full history oldest-first.
func (s *Messages) All(ctx context.Context, conversationID model.ConversationID) ([]*model.Message, error) {
	messages := []*model.Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? order by m.seq asc`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	return messages, nil
}

// Page returns one page of the history newest-first.
func (s *Messages) Page(ctx context.Context, conversationID model.ConversationID, request model.PageRequest) (*model.Page[*model.Message], error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	page := &model.Page[*model.Message]{Items: []*model.Message{}, Page: request.Page, Size: request.Size}
	err := s.db.GetContext(ctx, &page.Total, s.db.Rebind(`select count(*) from messages where conversation_id = ?`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	err = s.db.SelectContext(ctx, &page.Items, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? order by m.seq desc limit ? offset ?`), conversationID, request.Size, request.Offset())
	if err != nil {
		return nil, fmt.Errorf("selecting message page: %w", err)
	}
	return page, nil
}

// Since returns the messages sent strictly after since, oldest-first.
func (s *Messages) Since(ctx context.Context, conversationID model.ConversationID, since time.Time) ([]*model.Message, error) {
	messages := []*model.Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? and m.sent_at > ? order by m.seq asc`), conversationID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("selecting recent messages: %w", err)
	}
	return messages, nil
}

// Latest returns the newest message, nil for an empty conversation.
func (s *Messages) Latest(ctx context.Context, conversationID model.ConversationID) (*model.Message, error) {
	message := &model.Message{}
	err := s.db.GetContext(ctx, message, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? order by m.seq desc limit 1`), conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting latest message: %w", err)
	}
	return message, nil
}

func (s *Messages) Get(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID) (*model.Message, error) {
	message := &model.Message{}
	err := s.db.GetContext(ctx, message, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? and m.id = ?`), conversationID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("selecting message: %w", err)
	}
	return message, nil
}

func (s *Messages) Unread(ctx context.Context, conversationID model.ConversationID, user model.UserID) ([]*model.Message, error) {
	messages := []*model.Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? and `+unreadClause+` order by m.seq asc`), conversationID, user, user)
	if err != nil {
		return nil, fmt.Errorf("selecting unread messages: %w", err)
	}
	return messages, nil
}

// UnreadRecent returns at most limit of the newest unread messages, oldest-first.
func (s *Messages) UnreadRecent(ctx context.Context, conversationID model.ConversationID, user model.UserID, limit int) ([]*model.Message, error) {
	messages := []*model.Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`select `+messageColumns+` from messages m
		where m.conversation_id = ? and `+unreadClause+` order by m.seq desc limit ?`), conversationID, user, user, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting recent unread messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Messages) UnreadCount(ctx context.Context, conversationID model.ConversationID, user model.UserID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`select count(*) from messages m
		where m.conversation_id = ? and `+unreadClause), conversationID, user, user)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// UnreadCounts returns the unread count of every conversation the user takes
// part in, active or not. Conversations without unread messages are absent.
func (s *Messages) UnreadCounts(ctx context.Context, user model.UserID) (map[model.ConversationID]int, error) {
	rows := []struct {
		ConversationID model.ConversationID `db:"conversation_id"`
		Count          int                  `db:"unread"`
	}{}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`select m.conversation_id, count(*) as unread
		from messages m join conversations c on c.id = m.conversation_id
		where (c.participant_a = ? or c.participant_b = ?) and `+unreadClause+`
		group by m.conversation_id`), user, user, user, user)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages per conversation: %w", err)
	}

	counts := make(map[model.ConversationID]int, len(rows))
	for _, row := range rows {
		counts[row.ConversationID] = row.Count
	}
	return counts, nil
}

// MarkRead adds a READ row for every unread message of the conversation and
// returns how many were added. A second call adds nothing.
func (s *Messages) MarkRead(ctx context.Context, conversationID model.ConversationID, user model.UserID) (int64, error) {
	var added int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		ids := []model.MessageID{}
		err := tx.SelectContext(ctx, &ids, tx.Rebind(`select m.id from messages m
			where m.conversation_id = ? and `+unreadClause), conversationID, user, user)
		if err != nil {
			return fmt.Errorf("selecting unread messages: %w", err)
		}

		readAt := now()
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, tx.Rebind(`insert into message_statuses (message_id, user_id, status, created_at)
				values(?, ?, 'READ', ?) on conflict (message_id, user_id, status) do nothing`), id, user, readAt)
			if err != nil {
				return fmt.Errorf("marking message %s read: %w", id, err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("getting rows affected: %w", err)
			}
			added += rows
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// MarkMessageRead adds a READ row for one message. Own messages and already
// read messages are left alone and report false.
func (s *Messages) MarkMessageRead(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID, user model.UserID) (bool, error) {
	message, err := s.Get(ctx, conversationID, messageID)
	if err != nil {
		return false, err
	}
	if message.SenderID == user {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`insert into message_statuses (message_id, user_id, status, created_at)
		values(?, ?, 'READ', ?) on conflict (message_id, user_id, status) do nothing`), messageID, user, now())
	if err != nil {
		return false, fmt.Errorf("marking message read: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows == 1, nil
}

// Edit replaces the content of a message. Only the sender may edit, and
// SYSTEM messages are never edited.
func (s *Messages) Edit(ctx context.Context, conversationID model.ConversationID, messageID model.MessageID, editor model.UserID, content string) (*model.Message, error) {
	unlock := s.locks.lock(string(conversationID))
	defer unlock()

	var message *model.Message
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		message = &model.Message{}
		err := tx.GetContext(ctx, message, tx.Rebind(`select `+messageColumns+` from messages m
			where m.conversation_id = ? and m.id = ?`), conversationID, messageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrorMessageNotFound
			}
			return fmt.Errorf("selecting message: %w", err)
		}
		if message.SenderID != editor || message.Type == model.MessageTypeSystem {
			return model.ErrorNotMessageSender
		}

		editedAt := now()
		_, err = tx.ExecContext(ctx, tx.Rebind(`update messages set content = ?, edited = ?, edited_at = ? where id = ?`),
			content, true, editedAt, messageID)
		if err != nil {
			return fmt.Errorf("updating message: %w", err)
		}
		message.Content = content
		message.Edited = true
		message.EditedAt = &editedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (s *Messages) Statuses(ctx context.Context, messageID model.MessageID) ([]*model.MessageStatus, error) {
	statuses := []*model.MessageStatus{}
	err := s.db.SelectContext(ctx, &statuses, s.db.Rebind(`select message_id, user_id, status, created_at
		from message_statuses where message_id = ? order by created_at asc, status asc`), messageID)
	if err != nil {
		return nil, fmt.Errorf("selecting statuses: %w", err)
	}
	return statuses, nil
}

// StatusFor returns the effective status of a message for one user: READ once
// read, otherwise the row written when the message was created.
func (s *Messages) StatusFor(ctx context.Context, messageID model.MessageID, user model.UserID) (model.StatusValue, error) {
	statuses := []model.StatusValue{}
	err := s.db.SelectContext(ctx, &statuses, s.db.Rebind(`select status from message_statuses
		where message_id = ? and user_id = ?`), messageID, user)
	if err != nil {
		return "", fmt.Errorf("selecting status: %w", err)
	}

	var effective model.StatusValue
	for _, status := range statuses {
		switch {
		case status == model.StatusRead:
			return model.StatusRead, nil
		case effective == "":
			effective = status
		}
	}
	if effective == "" {
		// history from before status tracking reads as delivered
		return model.StatusDelivered, nil
	}
	return effective, nil
}
