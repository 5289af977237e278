package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/flock/internal/auth"
	"github.com/vadim/flock/internal/domain/direct/entity"
	"github.com/vadim/flock/internal/domain/direct/service"
	"github.com/vadim/flock/internal/httpx/response"
)

// DirectService defines the interface for direct message operations
type DirectService interface {
	EnsureConversation(ctx context.Context, userA, userB string) (*entity.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*entity.Conversation, error)
	SendMessage(ctx context.Context, in service.SendMessageInput) (*entity.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
	ListConversations(ctx context.Context, userID string) ([]entity.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]entity.Message, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// DirectHandler handles HTTP requests for direct messages
type DirectHandler struct {
	direct DirectService
}

// NewDirectHandler creates a new direct message handler
func NewDirectHandler(direct DirectService) *DirectHandler {
	return &DirectHandler{direct: direct}
}

// RegisterRoutes registers direct message routes
func (h *DirectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/direct", func(r chi.Router) {
		r.Get("/conversations", h.ListConversations())
		// "with" keeps this route's wildcard from clashing with the
		// conversation-id wildcard below.
		r.Put("/conversations/with/{userId}", h.EnsureConversation())
		r.Get("/conversations/{conversationId}/messages", h.ListMessages())
		r.Post("/conversations/{conversationId}/messages", h.SendMessage())
		r.Post("/conversations/{conversationId}/read", h.MarkRead())
		r.Get("/unread", h.UnreadTotal())
	})
}

// ListConversationsResponse represents the caller's inbox
type ListConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
}

// ListConversations handles GET /direct/conversations
func (h *DirectHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		conversations, err := h.direct.ListConversations(r.Context(), userID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, ListConversationsResponse{Conversations: conversations})
	}
}

// EnsureConversation handles PUT /direct/conversations/with/{userId}. It opens
// (or returns) the conversation between the caller and the named user.
func (h *DirectHandler) EnsureConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		conversation, err := h.direct.EnsureConversation(r.Context(), userID, chi.URLParam(r, "userId"))
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, conversation)
	}
}

// ListMessagesResponse represents a conversation's message history
type ListMessagesResponse struct {
	Messages []entity.Message `json:"messages"`
}

// ListMessages handles GET /direct/conversations/{conversationId}/messages
func (h *DirectHandler) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		messages, err := h.direct.ListMessages(r.Context(), chi.URLParam(r, "conversationId"), userID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, ListMessagesResponse{Messages: messages})
	}
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage handles POST /direct/conversations/{conversationId}/messages
func (h *DirectHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		msg, err := h.direct.SendMessage(r.Context(), service.SendMessageInput{
			ConversationID: chi.URLParam(r, "conversationId"),
			SenderID:       userID,
			Text:           req.Text,
		})
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.Created(w, msg)
	}
}

// MarkRead handles POST /direct/conversations/{conversationId}/read
func (h *DirectHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		if err := h.direct.MarkRead(r.Context(), chi.URLParam(r, "conversationId"), userID); err != nil {
			response.AppError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// UnreadTotalResponse represents the inbox badge count
type UnreadTotalResponse struct {
	Unread int `json:"unread"`
}

// UnreadTotal handles GET /direct/unread
func (h *DirectHandler) UnreadTotal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		total, err := h.direct.UnreadTotal(r.Context(), userID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, UnreadTotalResponse{Unread: total})
	}
}
