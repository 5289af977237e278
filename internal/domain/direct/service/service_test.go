package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/flock/internal/apperror"
	"github.com/vadim/flock/internal/domain/direct/entity"
	userservice "github.com/vadim/flock/internal/domain/user/service"
	"github.com/vadim/flock/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, userservice.New(st))
}

func TestEnsureConversationOrderIndependent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	second, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice_bob", first.ID)
	assert.Equal(t, []string{"alice", "bob"}, first.ParticipantIDs)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Zero(t, first.Unread["alice"])
	assert.Zero(t, first.Unread["bob"])
}

func TestEnsureConversationRejectsSelf(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.EnsureConversation(context.Background(), "alice", "alice")
	assert.True(t, errors.Is(err, apperror.ErrInvalidInput))
}

func TestSendMessageValidatesText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: ""})
	assert.True(t, errors.Is(err, apperror.ErrInvalidInput))

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: strings.Repeat("x", 1001)})
	assert.True(t, errors.Is(err, apperror.ErrInvalidInput))
}

func TestSendMessageRejectsOutsider(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "mallory", Text: "hi"})
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}

func TestSendMessageTracksUnread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: "hi"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: "there"})
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Unread["bob"])
	assert.Zero(t, got.Unread["alice"])
	assert.Equal(t, "there", got.LastMessageText)

	// A reply from bob resets his counter and bumps alice's.
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "bob", Text: "hey"})
	require.NoError(t, err)

	got, err = svc.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Zero(t, got.Unread["bob"])
	assert.Equal(t, 1, got.Unread["alice"])
	assert.Equal(t, "hey", got.LastMessageText)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, conv.ID, "bob"))
	require.NoError(t, svc.MarkRead(ctx, conv.ID, "bob"))

	got, err := svc.GetConversation(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, got.Unread["bob"])
}

func TestSendMessageHealsMissingConversation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// The conversation record was never materialized; sending to its
	// derived ID recreates it.
	msg, err := svc.SendMessage(ctx, SendMessageInput{ConversationID: entity.ConversationID("carol", "dave"), SenderID: "carol", Text: "hello"})
	require.NoError(t, err)

	got, err := svc.GetConversation(ctx, msg.ConversationID, "dave")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.LastMessageText)
	assert.Equal(t, 1, got.Unread["dave"])
}

func TestSendMessageRejectsMalformedID(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SendMessage(context.Background(), SendMessageInput{ConversationID: "nodelimiter", SenderID: "alice", Text: "hi"})
	assert.True(t, errors.Is(err, apperror.ErrInvalidInput))
}

func TestListMessagesOrdersAscending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: conv.ID, SenderID: "alice", Text: text})
		require.NoError(t, err)
	}

	// A second conversation must not leak into the first one's listing.
	other, err := svc.EnsureConversation(ctx, "alice", "carol")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: other.ID, SenderID: "carol", Text: "noise"})
	require.NoError(t, err)

	messages, err := svc.ListMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Text)
	assert.Equal(t, "two", messages[1].Text)
	assert.Equal(t, "three", messages[2].Text)
}

func TestListMessagesRejectsOutsider(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, conv.ID, "mallory")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}

func TestListConversationsOrdersByActivity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	withBob, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := svc.EnsureConversation(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: withCarol.ID, SenderID: "carol", Text: "first"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: withBob.ID, SenderID: "bob", Text: "second"})
	require.NoError(t, err)

	conversations, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, withBob.ID, conversations[0].ID)
	assert.Equal(t, withCarol.ID, conversations[1].ID)

	// Bob only sees his own conversation.
	conversations, err = svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, withBob.ID, conversations[0].ID)
}

func TestUnreadTotalSumsAcrossConversations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	withBob, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := svc.EnsureConversation(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: withBob.ID, SenderID: "bob", Text: "hi"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: withCarol.ID, SenderID: "carol", Text: "hi"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendMessageInput{ConversationID: withCarol.ID, SenderID: "carol", Text: "again"})
	require.NoError(t, err)

	total, err := svc.UnreadTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	require.NoError(t, svc.MarkRead(ctx, withCarol.ID, "alice"))

	total, err = svc.UnreadTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
