package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"uk.co.dudmesh.roost/internal/model"
)

const conversationColumns = `id, participant_a, participant_b, pair_key, listing_id, active, message_seq, created_at, last_message_at`

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

type ListingLookup interface {
	FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error)
}

// Conversations owns conversation identity and participant pairing per listing.
type Conversations struct {
	db       *sqlx.DB
	listings ListingLookup
	locks    *stripedLock
}

func NewConversations(db *sqlx.DB, listings ListingLookup) *Conversations {
	return &Conversations{db: db, listings: listings, locks: &stripedLock{}}
}

// CreateOrGet returns the active conversation between the two users about the
// listing, creating it when there is none. The listing is re-validated on every
// call. A new conversation starts with a SYSTEM message naming the listing,
// attributed to the initiator. A previously deactivated conversation for the
// same pair and listing is reactivated instead of being replaced.
func (s *Conversations) CreateOrGet(ctx context.Context, initiator, other model.UserID, listingID model.ListingID) (*model.Conversation, bool, error) {
	if initiator == other {
		return nil, false, model.ErrorSelfConversationNotAllowed
	}

	listing, err := s.listings.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, false, fmt.Errorf("finding listing: %w", err)
	}
	if listing == nil {
		return nil, false, model.ErrorListingNotFound
	}
	if !listing.Active {
		return nil, false, model.ErrorListingInactive
	}

	pairKey := model.PairKey(initiator, other)
	unlock := s.locks.lock(pairKey + "/" + string(listingID))
	defer unlock()

	conversation, created, err := s.createOrGet(ctx, initiator, other, listing)
	if err != nil && isUniqueViolation(err) {
		// another process created or reactivated it first
		conversation, err = s.findActive(ctx, s.db, pairKey, listingID)
		if err == nil && conversation == nil {
			err = fmt.Errorf("conversation vanished after conflicting insert")
		}
		return conversation, false, err
	}
	return conversation, created, err
}

func (s *Conversations) createOrGet(ctx context.Context, initiator, other model.UserID, listing *model.Listing) (*model.Conversation, bool, error) {
	pairKey := model.PairKey(initiator, other)
	var conversation *model.Conversation
	created := false

	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		conversation, err = s.findActive(ctx, tx, pairKey, listing.ID)
		if err != nil || conversation != nil {
			return err
		}

		conversation = &model.Conversation{}
		err = tx.GetContext(ctx, conversation, tx.Rebind(`select `+conversationColumns+` from conversations
			where pair_key = ? and listing_id = ? and not active
			order by last_message_at desc limit 1`), pairKey, listing.ID)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, tx.Rebind(`update conversations set active = ? where id = ?`), true, conversation.ID)
			if err != nil {
				return fmt.Errorf("reactivating conversation: %w", err)
			}
			conversation.Active = true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("selecting inactive conversation: %w", err)
		}

		createdAt := now()
		conversation = &model.Conversation{
			ID:            model.NewConversationID(),
			ParticipantA:  initiator,
			ParticipantB:  other,
			PairKey:       pairKey,
			ListingID:     listing.ID,
			Active:        true,
			CreatedAt:     createdAt,
			LastMessageAt: createdAt,
		}
		_, err = tx.NamedExecContext(ctx, `insert into conversations
			(id, participant_a, participant_b, pair_key, listing_id, active, message_seq, created_at, last_message_at)
			values(:id, :participant_a, :participant_b, :pair_key, :listing_id, :active, :message_seq, :created_at, :last_message_at)`, conversation)
		if err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}

		_, err = appendMessage(ctx, tx, conversation, initiator, subjectLine(listing), model.MessageTypeSystem)
		if err != nil {
			return fmt.Errorf("announcing conversation subject: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return conversation, created, nil
}

func subjectLine(listing *model.Listing) string {
	return "Conversation about: " + listing.Title
}

func (s *Conversations) findActive(ctx context.Context, q queryer, pairKey string, listingID model.ListingID) (*model.Conversation, error) {
	conversation := &model.Conversation{}
	err := sqlx.GetContext(ctx, q, conversation, q.Rebind(`select `+conversationColumns+` from conversations
		where pair_key = ? and listing_id = ? and active`), pairKey, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting active conversation: %w", err)
	}
	return conversation, nil
}

// FindForUser returns the user's active conversations, most recently active first.
func (s *Conversations) FindForUser(ctx context.Context, user model.UserID) ([]*model.Conversation, error) {
	conversations := []*model.Conversation{}
	err := s.db.SelectContext(ctx, &conversations, s.db.Rebind(`select `+conversationColumns+` from conversations
		where (participant_a = ? or participant_b = ?) and active
		order by last_message_at desc, id asc`), user, user)
	if err != nil {
		return nil, fmt.Errorf("selecting conversations: %w", err)
	}
	return conversations, nil
}

func (s *Conversations) FindPageForUser(ctx context.Context, user model.UserID, request model.PageRequest) (*model.Page[*model.Conversation], error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	page := &model.Page[*model.Conversation]{Items: []*model.Conversation{}, Page: request.Page, Size: request.Size}
	err := s.db.GetContext(ctx, &page.Total, s.db.Rebind(`select count(*) from conversations
		where (participant_a = ? or participant_b = ?) and active`), user, user)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	err = s.db.SelectContext(ctx, &page.Items, s.db.Rebind(`select `+conversationColumns+` from conversations
		where (participant_a = ? or participant_b = ?) and active
		order by last_message_at desc, id asc limit ? offset ?`), user, user, request.Size, request.Offset())
	if err != nil {
		return nil, fmt.Errorf("selecting conversation page: %w", err)
	}
	return page, nil
}

// FindAllForUser includes deactivated conversations.
func (s *Conversations) FindAllForUser(ctx context.Context, user model.UserID) ([]*model.Conversation, error) {
	conversations := []*model.Conversation{}
	err := s.db.SelectContext(ctx, &conversations, s.db.Rebind(`select `+conversationColumns+` from conversations
		where participant_a = ? or participant_b = ?
		order by last_message_at desc, id asc`), user, user)
	if err != nil {
		return nil, fmt.Errorf("selecting conversations: %w", err)
	}
	return conversations, nil
}

// FindByIDForParticipant is the access gate for message operations. The active
// flag is ignored: former participants can still read a deactivated conversation.
func (s *Conversations) FindByIDForParticipant(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error) {
	conversation := &model.Conversation{}
	err := s.db.GetContext(ctx, conversation, s.db.Rebind(`select `+conversationColumns+` from conversations
		where id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorConversationNotFoundOrForbidden
		}
		return nil, fmt.Errorf("selecting conversation: %w", err)
	}
	if !conversation.HasParticipant(user) {
		return nil, model.ErrorConversationNotFoundOrForbidden
	}
	return conversation, nil
}

// Deactivate soft-deletes the conversation for both participants. Messages are kept.
func (s *Conversations) Deactivate(ctx context.Context, id model.ConversationID, user model.UserID) (*model.Conversation, error) {
	conversation, err := s.FindByIDForParticipant(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if !conversation.Active {
		return conversation, nil
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`update conversations set active = ? where id = ?`), false, id)
	if err != nil {
		return nil, fmt.Errorf("deactivating conversation: %w", err)
	}
	conversation.Active = false
	return conversation, nil
}
