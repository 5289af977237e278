package entity

import (
	"sort"
	"strings"
	"time"
)

// Conversation is the single record for one unordered participant pair.
//
// Unread counts messages sent by the other participant since each
// participant last read; senders increment the recipient's entry and
// MarkRead zeroes the reader's.
type Conversation struct {
	ID              string         `json:"id"`
	ParticipantIDs  []string       `json:"participant_ids"`
	LastMessageText string         `json:"last_message_text,omitempty"`
	LastUpdatedAt   time.Time      `json:"last_updated_at"`
	Unread          map[string]int `json:"unread"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ConversationID derives the canonical conversation identity from an
// unordered participant pair. Both participants resolve to the same record
// regardless of who initiates.
func ConversationID(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// SplitConversationID recovers the participant pair from a canonical id.
func SplitConversationID(conversationID string) (string, string, bool) {
	parts := strings.SplitN(conversationID, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}
