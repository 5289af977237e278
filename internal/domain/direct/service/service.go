// Package service implements direct-message conversations.
//
// A conversation's identity is a pure function of its unordered participant
// pair, so both sides always resolve to the same record and the creation
// attempt itself doubles as the atomic existence check. The per-participant
// unread counters live on the conversation document and are only mutated
// through atomic read-modify-writes, never from cached values.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/flock/internal/domain/direct/entity"
	userentity "github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/store"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// UserEnsurer lazily materializes a user record before a conversation
// references it.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, userID string) (*userentity.User, error)
}

// Service handles direct-message business logic.
type Service struct {
	store store.EntityStore
	users UserEnsurer
}

// New creates a new direct message service.
func New(st store.EntityStore, users UserEnsurer) *Service {
	return &Service{store: st, users: users}
}

// EnsureConversation idempotently materializes the conversation for the
// unordered pair {userA, userB} and returns it. Concurrent first contact
// from both sides converges on a single record.
func (s *Service) EnsureConversation(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	if userA == userB {
		return nil, entity.ErrSelfConversation
	}
	if _, err := s.users.EnsureUser(ctx, userA); err != nil {
		return nil, err
	}
	if _, err := s.users.EnsureUser(ctx, userB); err != nil {
		return nil, err
	}

	conversationID := entity.ConversationID(userA, userB)
	var conv entity.Conversation
	err := s.store.RunAtomic(ctx, conversationsCollection, conversationID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			now := time.Now().UTC()
			ids := []string{userA, userB}
			sort.Strings(ids)
			conv = entity.Conversation{
				ID:             conversationID,
				ParticipantIDs: ids,
				Unread:         map[string]int{userA: 0, userB: 0},
				LastUpdatedAt:  now,
				CreatedAt:      now,
			}
			return json.Marshal(conv)
		}
		if err := json.Unmarshal(cur, &conv); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation the user participates in.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	doc, err := s.store.Get(ctx, conversationsCollection, conversationID)
	if err != nil {
		return nil, err
	}
	var conv entity.Conversation
	if err := json.Unmarshal(doc, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", conversationID, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, entity.ErrNotParticipant
	}
	return &conv, nil
}

// SendMessageInput carries one outgoing message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Text           string
}

// SendMessage appends the message, then atomically updates the
// conversation: last-message fields, a true atomic increment of the
// recipient's unread counter, and a reset of the sender's. A missing
// conversation record is healed rather than failed.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*entity.Message, error) {
	if err := entity.ValidateMessageText(in.Text); err != nil {
		return nil, err
	}

	userA, userB, ok := entity.SplitConversationID(in.ConversationID)
	if !ok {
		return nil, entity.ErrBadConversation
	}
	if in.SenderID != userA && in.SenderID != userB {
		return nil, entity.ErrNotParticipant
	}

	// Auto-heal: operations on a conversation that was never (or no
	// longer) materialized recreate it instead of failing.
	conv, err := s.EnsureConversation(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	recipientID := conv.OtherParticipant(in.SenderID)

	msg := entity.Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		CreatedAt:      time.Now().UTC(),
	}
	doc, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if err := s.store.Put(ctx, messagesCollection, msg.ID, doc); err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	err = s.store.RunAtomic(ctx, conversationsCollection, in.ConversationID, func(cur []byte) ([]byte, error) {
		var current entity.Conversation
		if cur == nil {
			current = *conv
		} else if err := json.Unmarshal(cur, &current); err != nil {
			return nil, err
		}
		if current.Unread == nil {
			current.Unread = map[string]int{}
		}
		current.LastMessageText = msg.Text
		current.LastUpdatedAt = msg.CreatedAt
		current.Unread[recipientID]++
		current.Unread[in.SenderID] = 0
		return json.Marshal(current)
	})
	if err != nil {
		return nil, fmt.Errorf("updating conversation %s: %w", in.ConversationID, err)
	}
	return &msg, nil
}

// MarkRead atomically zeroes the reader's unread counter. Calling it when
// already zero is a no-op.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) error {
	userA, userB, ok := entity.SplitConversationID(conversationID)
	if !ok {
		return entity.ErrBadConversation
	}
	if readerID != userA && readerID != userB {
		return entity.ErrNotParticipant
	}
	if _, err := s.EnsureConversation(ctx, userA, userB); err != nil {
		return err
	}

	err := s.store.RunAtomic(ctx, conversationsCollection, conversationID, func(cur []byte) ([]byte, error) {
		var conv entity.Conversation
		if err := json.Unmarshal(cur, &conv); err != nil {
			return nil, err
		}
		if conv.Unread[readerID] == 0 {
			return cur, nil
		}
		conv.Unread[readerID] = 0
		return json.Marshal(conv)
	})
	if err != nil {
		return fmt.Errorf("marking %s read in %s: %w", readerID, conversationID, err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recently
// updated first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]entity.Conversation, error) {
	records, err := s.store.List(ctx, conversationsCollection)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	var conversations []entity.Conversation
	for _, rec := range records {
		var conv entity.Conversation
		if err := json.Unmarshal(rec.Doc, &conv); err != nil {
			return nil, fmt.Errorf("decoding conversation %s: %w", rec.ID, err)
		}
		if conv.HasParticipant(userID) {
			conversations = append(conversations, conv)
		}
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastUpdatedAt.After(conversations[j].LastUpdatedAt)
	})
	return conversations, nil
}

// ListMessages returns a conversation's messages ordered by creation time
// ascending.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]entity.Message, error) {
	userA, userB, ok := entity.SplitConversationID(conversationID)
	if !ok {
		return nil, entity.ErrBadConversation
	}
	if userID != userA && userID != userB {
		return nil, entity.ErrNotParticipant
	}

	records, err := s.store.List(ctx, messagesCollection)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	var messages []entity.Message
	for _, rec := range records {
		var msg entity.Message
		if err := json.Unmarshal(rec.Doc, &msg); err != nil {
			return nil, fmt.Errorf("decoding message %s: %w", rec.ID, err)
		}
		if msg.ConversationID == conversationID {
			messages = append(messages, msg)
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// UnreadTotal sums the user's unread counters across all conversations,
// for the inbox badge.
func (s *Service) UnreadTotal(ctx context.Context, userID string) (int, error) {
	conversations, err := s.ListConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, conv := range conversations {
		total += conv.Unread[userID]
	}
	return total, nil
}
