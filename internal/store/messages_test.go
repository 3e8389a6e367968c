package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.roost/internal/model"
)

func newConversation(t *testing.T) (*model.Conversation, *Conversations, *Messages) {
	t.Helper()
	conversations, messages, _ := newTestStores(t)
	conversation, _, err := conversations.CreateOrGet(context.Background(), alice, bob, "42")
	require.NoError(t, err)
	return conversation, conversations, messages
}

func TestAppendOrdering(t *testing.T) {
	ctx := context.Background()
	conversation, conversations, messages := newConversation(t)

	for i := 0; i < 5; i++ {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		_, err := messages.Append(ctx, conversation, sender, fmt.Sprintf("message %d", i), model.MessageTypeText)
		require.NoError(t, err)
	}

	all, err := messages.All(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].Seq+1, all[i].Seq)
		assert.False(t, all[i].SentAt.Before(all[i-1].SentAt))
	}

	page, err := messages.Page(ctx, conversation.ID, model.PageRequest{Page: 0, Size: 100})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Items, 6)
	for i := range all {
		assert.Equal(t, all[i].ID, page.Items[len(page.Items)-1-i].ID)
	}

	stored, err := conversations.FindByIDForParticipant(ctx, conversation.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, all[5].Seq, stored.MessageSeq)
	assert.Equal(t, all[5].SentAt.UnixNano(), stored.LastMessageAt.UnixNano())

	latest, err := messages.Latest(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, all[5].ID, latest.ID)
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 1 {
				sender = bob
			}
			_, err := messages.Append(ctx, conversation, sender, fmt.Sprintf("m%d", i), model.MessageTypeText)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := messages.All(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, all, 41)
	for i, message := range all {
		assert.Equal(t, int64(i+1), message.Seq)
		if i > 0 {
			assert.False(t, message.SentAt.Before(all[i-1].SentAt))
		}
		if message.Type == model.MessageTypeSystem {
			continue
		}

		statuses, err := messages.Statuses(ctx, message.ID)
		require.NoError(t, err)
		require.Len(t, statuses, 2, "statuses of %s", message.Content)
		byUser := map[model.UserID]model.StatusValue{}
		for _, status := range statuses {
			byUser[status.UserID] = status.Status
		}
		recipient := bob
		if message.SenderID == bob {
			recipient = alice
		}
		assert.Equal(t, model.StatusSent, byUser[message.SenderID])
		assert.Equal(t, model.StatusDelivered, byUser[recipient])
	}
}

func TestAppendToUnknownConversation(t *testing.T) {
	_, messages, _ := newTestStores(t)
	_, err := messages.Append(context.Background(), &model.Conversation{ID: "ghost", ParticipantA: alice, ParticipantB: bob}, alice, "hi", model.MessageTypeText)
	assert.ErrorIs(t, err, model.ErrorConversationNotFoundOrForbidden)
}

func TestPaging(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)
	for i := 0; i < 4; i++ {
		_, err := messages.Append(ctx, conversation, alice, fmt.Sprintf("m%d", i), model.MessageTypeText)
		require.NoError(t, err)
	}

	page, err := messages.Page(ctx, conversation.ID, model.PageRequest{Page: 0, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "m3", page.Items[0].Content)
	assert.Equal(t, "m2", page.Items[1].Content)

	page, err = messages.Page(ctx, conversation.ID, model.PageRequest{Page: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.MessageTypeSystem, page.Items[0].Type)

	page, err = messages.Page(ctx, conversation.ID, model.PageRequest{Page: 9, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = messages.Page(ctx, conversation.ID, model.PageRequest{Page: -1, Size: 2})
	assert.ErrorIs(t, err, model.ErrorInvalidPageRequest)
}

func TestStatusRows(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)

	message, err := messages.Append(ctx, conversation, alice, "hello", model.MessageTypeText)
	require.NoError(t, err)

	statuses, err := messages.Statuses(ctx, message.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byUser := map[model.UserID]model.StatusValue{}
	for _, s := range statuses {
		byUser[s.UserID] = s.Status
	}
	assert.Equal(t, model.StatusSent, byUser[alice])
	assert.Equal(t, model.StatusDelivered, byUser[bob])

	status, err := messages.StatusFor(ctx, message.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, status)

	_, err = messages.MarkRead(ctx, conversation.ID, bob)
	require.NoError(t, err)

	status, err = messages.StatusFor(ctx, message.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, status)

	status, err = messages.StatusFor(ctx, message.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, status)

	status, err = messages.StatusFor(ctx, "unknown", carol)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, status)
}

func TestUnreadAndMarkRead(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)

	// the opening SYSTEM message is unread for nobody
	count, err := messages.UnreadCount(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = messages.Append(ctx, conversation, alice, "Is it still available?", model.MessageTypeText)
	require.NoError(t, err)
	_, err = messages.Append(ctx, conversation, alice, "Hello?", model.MessageTypeText)
	require.NoError(t, err)

	count, err = messages.UnreadCount(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = messages.UnreadCount(ctx, conversation.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "own messages are never unread")

	counts, err := messages.UnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, map[model.ConversationID]int{conversation.ID: 2}, counts)

	added, err := messages.MarkRead(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	added, err = messages.MarkRead(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), added)

	unread, err := messages.Unread(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := messages.All(ctx, conversation.ID)
	require.NoError(t, err)
	statuses, err := messages.Statuses(ctx, all[1].ID)
	require.NoError(t, err)
	reads := 0
	for _, s := range statuses {
		if s.Status == model.StatusRead {
			reads++
		}
	}
	assert.Equal(t, 1, reads)

	counts, err = messages.UnreadCounts(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestMarkMessageRead(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)

	first, err := messages.Append(ctx, conversation, alice, "one", model.MessageTypeText)
	require.NoError(t, err)
	_, err = messages.Append(ctx, conversation, alice, "two", model.MessageTypeText)
	require.NoError(t, err)

	marked, err := messages.MarkMessageRead(ctx, conversation.ID, first.ID, bob)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = messages.MarkMessageRead(ctx, conversation.ID, first.ID, bob)
	require.NoError(t, err)
	assert.False(t, marked)

	marked, err = messages.MarkMessageRead(ctx, conversation.ID, first.ID, alice)
	require.NoError(t, err)
	assert.False(t, marked)

	_, err = messages.MarkMessageRead(ctx, conversation.ID, "missing", bob)
	assert.ErrorIs(t, err, model.ErrorMessageNotFound)

	count, err := messages.UnreadCount(ctx, conversation.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnreadRecentIsCappedOldestFirst(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)
	for i := 0; i < 6; i++ {
		_, err := messages.Append(ctx, conversation, alice, fmt.Sprintf("m%d", i), model.MessageTypeText)
		require.NoError(t, err)
	}

	recent, err := messages.UnreadRecent(ctx, conversation.ID, bob, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m4", recent[1].Content)
	assert.Equal(t, "m5", recent[2].Content)
}

func TestSince(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)
	before := time.Now().Add(-time.Hour)

	_, err := messages.Append(ctx, conversation, alice, "one", model.MessageTypeText)
	require.NoError(t, err)
	last, err := messages.Append(ctx, conversation, bob, "two", model.MessageTypeText)
	require.NoError(t, err)

	recent, err := messages.Since(ctx, conversation.ID, before)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	recent, err = messages.Since(ctx, conversation.ID, last.SentAt)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	conversation, _, messages := newConversation(t)

	message, err := messages.Append(ctx, conversation, alice, "helo", model.MessageTypeText)
	require.NoError(t, err)

	_, err = messages.Edit(ctx, conversation.ID, message.ID, bob, "hijacked")
	assert.ErrorIs(t, err, model.ErrorNotMessageSender)

	edited, err := messages.Edit(ctx, conversation.ID, message.ID, alice, "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)

	stored, err := messages.Get(ctx, conversation.ID, message.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
	assert.True(t, stored.Edited)
	assert.Equal(t, message.Seq, stored.Seq)

	all, err := messages.All(ctx, conversation.ID)
	require.NoError(t, err)
	_, err = messages.Edit(ctx, conversation.ID, all[0].ID, alice, "rewritten subject")
	assert.ErrorIs(t, err, model.ErrorNotMessageSender)

	_, err = messages.Edit(ctx, conversation.ID, "missing", alice, "x")
	assert.ErrorIs(t, err, model.ErrorMessageNotFound)
}
