package entity

import (
	"time"
	"unicode/utf8"
)

// Message is a direct message. Immutable once created; ordered by
// CreatedAt within its conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// MaxMessageLength is the maximum length of a message, in runes.
const MaxMessageLength = 1000

// ValidateMessageText validates the text for a message.
func ValidateMessageText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
