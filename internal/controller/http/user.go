package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/flock/internal/auth"
	"github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/domain/user/service"
	"github.com/vadim/flock/internal/httpx/response"
	"github.com/vadim/flock/internal/storage"
)

// UserService defines the interface for profile and follow-graph operations
type UserService interface {
	Get(ctx context.Context, userID string) (*entity.User, error)
	GetByHandle(ctx context.Context, handle string) (*entity.User, error)
	UpdateProfile(ctx context.Context, userID string, in service.UpdateProfileInput) (*entity.User, error)
	Follow(ctx context.Context, actorID, targetID string) error
	Unfollow(ctx context.Context, actorID, targetID string) error
	IsFollowing(ctx context.Context, actorID, targetID string) (bool, error)
}

// AvatarStorage defines the interface for storing profile images
type AvatarStorage interface {
	Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error)
	Delete(ctx context.Context, key string) error
	KeyFromURL(url string) (string, bool)
}

// UserHandler handles HTTP requests for user profiles and the follow graph
type UserHandler struct {
	users   UserService
	avatars AvatarStorage
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserService, avatars AvatarStorage) *UserHandler {
	return &UserHandler{users: users, avatars: avatars}
}

// RegisterRoutes registers user routes
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Patch("/me", h.UpdateProfile())
		r.Put("/me/avatar", h.UploadAvatar())

		r.Get("/by-handle/{handle}", h.GetByHandle())

		r.Get("/{userId}", h.Get())
		r.Put("/{userId}/follow", h.Follow())
		r.Delete("/{userId}/follow", h.Unfollow())
		r.Get("/{userId}/relationship", h.Relationship())
	})
}

// Get handles GET /users/{userId}
func (h *UserHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.Get(r.Context(), chi.URLParam(r, "userId"))
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, user)
	}
}

// GetByHandle handles GET /users/by-handle/{handle}
func (h *UserHandler) GetByHandle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := h.users.GetByHandle(r.Context(), chi.URLParam(r, "handle"))
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, user)
	}
}

// UpdateProfileRequest represents the request body for a profile edit.
// Absent fields are left unchanged.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Handle      *string `json:"handle"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile handles PATCH /users/me
func (h *UserHandler) UpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		var req UpdateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		user, err := h.users.UpdateProfile(r.Context(), userID, service.UpdateProfileInput{
			DisplayName: req.DisplayName,
			Handle:      req.Handle,
			AvatarURL:   req.AvatarURL,
		})
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, user)
	}
}

// UploadAvatar handles PUT /users/me/avatar. The request body is the raw
// image; Content-Type and Content-Length describe it.
func (h *UserHandler) UploadAvatar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())

		current, err := h.users.Get(r.Context(), userID)
		if err != nil {
			response.AppError(w, err)
			return
		}

		uploaded, err := h.avatars.Upload(r.Context(), storage.UploadInput{
			UserID:      userID,
			Reader:      http.MaxBytesReader(w, r.Body, storage.MaxAvatarSize),
			ContentType: r.Header.Get("Content-Type"),
			Size:        r.ContentLength,
		})
		if err != nil {
			response.AppError(w, err)
			return
		}

		user, err := h.users.UpdateProfile(r.Context(), userID, service.UpdateProfileInput{
			AvatarURL: &uploaded.URL,
		})
		if err != nil {
			response.AppError(w, err)
			return
		}

		// The profile now points at the new object; the old one is garbage.
		// Best effort, an orphaned object is harmless.
		if key, ok := h.avatars.KeyFromURL(current.AvatarURL); ok && key != uploaded.Key {
			_ = h.avatars.Delete(r.Context(), key)
		}

		response.OK(w, user)
	}
}

// Follow handles PUT /users/{userId}/follow
func (h *UserHandler) Follow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())

		if err := h.users.Follow(r.Context(), actorID, chi.URLParam(r, "userId")); err != nil {
			response.AppError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// Unfollow handles DELETE /users/{userId}/follow
func (h *UserHandler) Unfollow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())

		if err := h.users.Unfollow(r.Context(), actorID, chi.URLParam(r, "userId")); err != nil {
			response.AppError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// RelationshipResponse represents the follow relation between the caller
// and another user
type RelationshipResponse struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followed_by"`
}

// Relationship handles GET /users/{userId}/relationship
func (h *UserHandler) Relationship() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())
		targetID := chi.URLParam(r, "userId")

		following, err := h.users.IsFollowing(r.Context(), actorID, targetID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		followedBy, err := h.users.IsFollowing(r.Context(), targetID, actorID)
		if err != nil {
			response.AppError(w, err)
			return
		}

		response.OK(w, RelationshipResponse{Following: following, FollowedBy: followedBy})
	}
}
