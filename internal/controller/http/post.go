package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/flock/internal/auth"
	"github.com/vadim/flock/internal/domain/post/entity"
	"github.com/vadim/flock/internal/domain/post/service"
	"github.com/vadim/flock/internal/httpx/response"
)

// cursorLayout is the timestamp format used for feed pagination cursors
const cursorLayout = time.RFC3339Nano

// PostService defines the interface for post and interaction operations
type PostService interface {
	Create(ctx context.Context, in service.CreateInput) (*entity.Post, error)
	Get(ctx context.Context, postID string) (*entity.Post, error)
	List(ctx context.Context, limit int, cursor string) ([]entity.Post, error)
	ListByAuthor(ctx context.Context, authorID string) ([]entity.Post, error)
	ToggleLike(ctx context.Context, postID, actorID string) (*service.ToggleLikeOutput, error)
	ToggleRetweet(ctx context.Context, postID, actorID string) (*service.ToggleRetweetOutput, error)
	CreateReply(ctx context.Context, parentPostID, authorID, text string) (*entity.Post, error)
	BuildThread(ctx context.Context, rootPostID string) (*entity.Thread, error)
	Delete(ctx context.Context, postID, actorID string) error
}

// PostHandler handles HTTP requests for posts, likes, retweets and threads
type PostHandler struct {
	posts PostService
}

// NewPostHandler creates a new post handler
func NewPostHandler(posts PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// RegisterRoutes registers post routes
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Get("/feed", h.Feed())

	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.Create())
		r.Get("/", h.ListByAuthor())

		r.Get("/{postId}", h.Get())
		r.Delete("/{postId}", h.Delete())
		r.Get("/{postId}/thread", h.Thread())
		r.Post("/{postId}/replies", h.CreateReply())
		r.Post("/{postId}/like", h.ToggleLike())
		r.Post("/{postId}/retweet", h.ToggleRetweet())
	})
}

// FeedResponse represents one page of the feed
type FeedResponse struct {
	Posts      []entity.Post `json:"posts"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Feed handles GET /feed
func (h *PostHandler) Feed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				limit = parsed
				if limit > 100 {
					limit = 100
				}
			}
		}

		posts, err := h.posts.List(r.Context(), limit, r.URL.Query().Get("cursor"))
		if err != nil {
			response.AppError(w, err)
			return
		}

		resp := FeedResponse{Posts: posts}
		if len(posts) > 0 {
			resp.NextCursor = posts[len(posts)-1].CreatedAt.Format(cursorLayout)
		}
		response.OK(w, resp)
	}
}

// CreatePostRequest represents the request body for creating a post
type CreatePostRequest struct {
	Text string `json:"text"`
}

// Create handles POST /posts
func (h *PostHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorID, _ := auth.UserID(r.Context())

		var req CreatePostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		post, err := h.posts.Create(r.Context(), service.CreateInput{AuthorID: authorID, Text: req.Text})
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.Created(w, post)
	}
}

// Get handles GET /posts/{postId}
func (h *PostHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := h.posts.Get(r.Context(), chi.URLParam(r, "postId"))
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, post)
	}
}

// Delete handles DELETE /posts/{postId}
func (h *PostHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())

		if err := h.posts.Delete(r.Context(), chi.URLParam(r, "postId"), actorID); err != nil {
			response.AppError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// Thread handles GET /posts/{postId}/thread
func (h *PostHandler) Thread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thread, err := h.posts.BuildThread(r.Context(), chi.URLParam(r, "postId"))
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, thread)
	}
}

// CreateReplyRequest represents the request body for replying to a post
type CreateReplyRequest struct {
	Text string `json:"text"`
}

// CreateReply handles POST /posts/{postId}/replies
func (h *PostHandler) CreateReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorID, _ := auth.UserID(r.Context())

		var req CreateReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		reply, err := h.posts.CreateReply(r.Context(), chi.URLParam(r, "postId"), authorID, req.Text)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.Created(w, reply)
	}
}

// ToggleLike handles POST /posts/{postId}/like
func (h *PostHandler) ToggleLike() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())

		out, err := h.posts.ToggleLike(r.Context(), chi.URLParam(r, "postId"), actorID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, out)
	}
}

// ToggleRetweet handles POST /posts/{postId}/retweet
func (h *PostHandler) ToggleRetweet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _ := auth.UserID(r.Context())

		out, err := h.posts.ToggleRetweet(r.Context(), chi.URLParam(r, "postId"), actorID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, out)
	}
}

// ListByAuthor handles GET /posts?author_id={userId}
func (h *PostHandler) ListByAuthor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorID := r.URL.Query().Get("author_id")
		if authorID == "" {
			response.BadRequest(w, "author_id is required")
			return
		}

		posts, err := h.posts.ListByAuthor(r.Context(), authorID)
		if err != nil {
			response.AppError(w, err)
			return
		}
		response.OK(w, FeedResponse{Posts: posts})
	}
}
