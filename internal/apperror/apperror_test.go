package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", NotFound("post", "p1"), ErrNotFound},
		{"forbidden", Forbidden("no"), ErrForbidden},
		{"invalid input", InvalidInput("text", "text is required"), ErrInvalidInput},
		{"conflict", Conflict("post", "p1"), ErrConflict},
		{"unavailable", Unavailable("store unreachable"), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.kind))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("toggling like: %w", NotFound("post", "p1"))
	require.True(t, errors.Is(err, ErrNotFound))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "post not found with id p1", appErr.Message)
}

func TestInvalidInputField(t *testing.T) {
	err := InvalidInput("text", "text exceeds maximum length")
	assert.Equal(t, "text", err.Field)
	assert.Equal(t, "text exceeds maximum length", err.Error())
}
