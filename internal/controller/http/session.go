package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/httpx/response"
)

// TokenIssuer defines the interface for minting session tokens
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// UserEnsurer lazily materializes the user record behind a session
type UserEnsurer interface {
	EnsureUser(ctx context.Context, userID string) (*entity.User, error)
}

// SessionHandler exchanges identity-provider claims for a session token.
// Verifying the upstream identity proof happens at the edge; this service
// trusts the forwarded subject.
type SessionHandler struct {
	tokens TokenIssuer
	users  UserEnsurer
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(tokens TokenIssuer, users UserEnsurer) *SessionHandler {
	return &SessionHandler{tokens: tokens, users: users}
}

// RegisterRoutes registers the session route
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.Create())
}

// CreateSessionRequest represents the forwarded identity claims
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// CreateSessionResponse represents an issued session
type CreateSessionResponse struct {
	Token string       `json:"token"`
	User  *entity.User `json:"user"`
}

// Create handles POST /session. The user record is ensured before the
// token is issued, so every authenticated caller exists in the store.
func (h *SessionHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.UserID == "" {
			response.BadRequest(w, "user_id is required")
			return
		}

		user, err := h.users.EnsureUser(r.Context(), req.UserID)
		if err != nil {
			response.AppError(w, err)
			return
		}

		token, err := h.tokens.Issue(user.ID)
		if err != nil {
			response.InternalError(w, "failed to issue session token")
			return
		}

		response.Created(w, CreateSessionResponse{Token: token, User: user})
	}
}
