package entity

import "github.com/vadim/flock/internal/apperror"

// Domain errors for posts.
var (
	ErrEmptyText       = apperror.InvalidInput("text", "text cannot be empty")
	ErrTextTooLong     = apperror.InvalidInput("text", "text exceeds maximum length")
	ErrSelfRetweet     = apperror.Forbidden("cannot retweet your own post")
	ErrDeleteForbidden = apperror.Forbidden("only the author or an admin may delete a post")
)
