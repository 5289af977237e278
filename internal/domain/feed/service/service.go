// Package service projects live views out of the stored state: the home
// feed, a user's conversation inbox, and single reply threads. Projections
// are read-only; they subscribe to store change events and recompute a full
// snapshot on every relevant change. Delivery is latest-wins through a
// one-slot channel, so a slow consumer only ever skips intermediate frames
// and never blocks a writer.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/vadim/flock/internal/apperror"
	directentity "github.com/vadim/flock/internal/domain/direct/entity"
	postentity "github.com/vadim/flock/internal/domain/post/entity"
	"github.com/vadim/flock/internal/store"
)

// DefaultSnapshotTimeout bounds how long one snapshot recomputation may
// take before the stream reports the backend unavailable.
const DefaultSnapshotTimeout = 3 * time.Second

const (
	postsCollection         = "posts"
	conversationsCollection = "conversations"
)

// PostSource supplies post read models.
type PostSource interface {
	List(ctx context.Context, limit int, cursor string) ([]postentity.Post, error)
	BuildThread(ctx context.Context, rootPostID string) (*postentity.Thread, error)
}

// ConversationSource supplies conversation read models.
type ConversationSource interface {
	ListConversations(ctx context.Context, userID string) ([]directentity.Conversation, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// EventSource is the change-notification side of the store.
type EventSource interface {
	Subscribe(ctx context.Context, collection string) (<-chan store.Event, func())
}

// Inbox is one conversation-list emission.
type Inbox struct {
	Conversations []directentity.Conversation `json:"conversations"`
	UnreadTotal   int                         `json:"unread_total"`
}

// Service builds live projections.
type Service struct {
	posts           PostSource
	conversations   ConversationSource
	events          EventSource
	snapshotTimeout time.Duration
}

// New creates a projection service. snapshotTimeout <= 0 selects
// DefaultSnapshotTimeout.
func New(posts PostSource, conversations ConversationSource, events EventSource, snapshotTimeout time.Duration) *Service {
	if snapshotTimeout <= 0 {
		snapshotTimeout = DefaultSnapshotTimeout
	}
	return &Service{
		posts:           posts,
		conversations:   conversations,
		events:          events,
		snapshotTimeout: snapshotTimeout,
	}
}

// Feed returns one feed page, newest first.
func (s *Service) Feed(ctx context.Context, limit int, cursor string) ([]postentity.Post, error) {
	return s.posts.List(ctx, limit, cursor)
}

// StreamFeed emits the current feed page and re-emits it whenever any post
// changes. The channel closes when ctx is cancelled.
func (s *Service) StreamFeed(ctx context.Context, limit int) (<-chan []postentity.Post, error) {
	return runStream(ctx, s, postsCollection, func(ctx context.Context) ([]postentity.Post, error) {
		return s.posts.List(ctx, limit, "")
	})
}

// StreamConversationList emits the user's inbox and re-emits it whenever
// any conversation changes.
func (s *Service) StreamConversationList(ctx context.Context, userID string) (<-chan Inbox, error) {
	return runStream(ctx, s, conversationsCollection, func(ctx context.Context) (Inbox, error) {
		conversations, err := s.conversations.ListConversations(ctx, userID)
		if err != nil {
			return Inbox{}, err
		}
		total := 0
		for _, conv := range conversations {
			total += conv.Unread[userID]
		}
		return Inbox{Conversations: conversations, UnreadTotal: total}, nil
	})
}

// StreamThread emits the reply thread rooted at rootPostID and re-emits it
// whenever any post changes. The stream ends when the root post vanishes.
func (s *Service) StreamThread(ctx context.Context, rootPostID string) (<-chan *postentity.Thread, error) {
	return runStream(ctx, s, postsCollection, func(ctx context.Context) (*postentity.Thread, error) {
		return s.posts.BuildThread(ctx, rootPostID)
	})
}

// runStream wires the common projection loop: take the initial snapshot
// under the deadline, then recompute and push on every event. A NotFound
// mid-stream means the projected entity vanished and ends the stream;
// other snapshot errors skip the emission and keep the stream alive.
func runStream[T any](ctx context.Context, s *Service, collection string, snap func(context.Context) (T, error)) (<-chan T, error) {
	events, cancel := s.events.Subscribe(ctx, collection)

	first, err := snapshot(ctx, s.snapshotTimeout, snap)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	go func() {
		defer cancel()
		defer close(out)
		push(out, first)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				next, err := snapshot(ctx, s.snapshotTimeout, snap)
				if errors.Is(err, apperror.ErrNotFound) {
					return
				}
				if err != nil {
					continue
				}
				push(out, next)
			}
		}
	}()
	return out, nil
}

func snapshot[T any](ctx context.Context, timeout time.Duration, snap func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := snap(sctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, apperror.Unavailable("projection snapshot timed out")
	}
	return v, err
}

// push delivers latest-wins: a pending frame the consumer has not drained
// is displaced by the newer one.
func push[T any](out chan T, v T) {
	for {
		select {
		case out <- v:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
