package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vadim/flock/internal/auth"
	feedservice "github.com/vadim/flock/internal/domain/feed/service"
	"github.com/vadim/flock/internal/domain/post/entity"
	"github.com/vadim/flock/internal/httpx/response"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// FeedService defines the interface for live projections
type FeedService interface {
	StreamFeed(ctx context.Context, limit int) (<-chan []entity.Post, error)
	StreamConversationList(ctx context.Context, userID string) (<-chan feedservice.Inbox, error)
	StreamThread(ctx context.Context, rootPostID string) (<-chan *entity.Thread, error)
}

// StreamHandler pushes live projection frames over websockets
type StreamHandler struct {
	feed   FeedService
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(feed FeedService, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{feed: feed, logger: logger}
}

// RegisterRoutes registers websocket stream routes
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Route("/stream", func(r chi.Router) {
		r.Get("/feed", h.Feed())
		r.Get("/inbox", h.Inbox())
		r.Get("/threads/{postId}", h.Thread())
	})
}

// Feed handles GET /stream/feed
func (h *StreamHandler) Feed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveStream(w, r, h.logger, func(ctx context.Context) (<-chan []entity.Post, error) {
			return h.feed.StreamFeed(ctx, 0)
		})
	}
}

// Inbox handles GET /stream/inbox
func (h *StreamHandler) Inbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserID(r.Context())
		serveStream(w, r, h.logger, func(ctx context.Context) (<-chan feedservice.Inbox, error) {
			return h.feed.StreamConversationList(ctx, userID)
		})
	}
}

// Thread handles GET /stream/threads/{postId}
func (h *StreamHandler) Thread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := chi.URLParam(r, "postId")
		serveStream(w, r, h.logger, func(ctx context.Context) (<-chan *entity.Thread, error) {
			return h.feed.StreamThread(ctx, postID)
		})
	}
}

// serveStream upgrades the connection and pushes every projection frame as
// a JSON message. The subscription is opened before the upgrade so a failed
// initial snapshot still gets a plain HTTP error. Closing the socket only
// cancels this subscription.
func serveStream[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, open func(ctx context.Context) (<-chan T, error)) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, err := open(ctx)
	if err != nil {
		response.AppError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// Reader loop only to detect the client going away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for frame := range frames {
		if err := ws.WriteJSON(frame); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}
	}

	// The projection ended on its own (the streamed entity vanished).
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
