package entity

import "github.com/vadim/flock/internal/apperror"

// Domain errors for direct messages.
var (
	ErrEmptyMessage     = apperror.InvalidInput("text", "message text cannot be empty")
	ErrMessageTooLong   = apperror.InvalidInput("text", "message exceeds maximum length")
	ErrSelfConversation = apperror.InvalidInput("participant_id", "a conversation needs two distinct participants")
	ErrNotParticipant   = apperror.Forbidden("not a participant of this conversation")
	ErrBadConversation  = apperror.InvalidInput("conversation_id", "malformed conversation id")
)
