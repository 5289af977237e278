package entity

import "github.com/vadim/flock/internal/apperror"

// Domain errors for users and the follow graph.
var (
	ErrSelfFollow    = apperror.Forbidden("cannot follow yourself")
	ErrEmptyHandle   = apperror.InvalidInput("handle", "handle cannot be empty")
	ErrHandleTooLong = apperror.InvalidInput("handle", "handle exceeds maximum length")
	ErrInvalidHandle = apperror.InvalidInput("handle", "handle may contain lowercase letters, digits and underscores only")

	ErrHandleTaken = &apperror.AppError{
		Err:     apperror.ErrConflict,
		Message: "handle is already taken",
	}
)
