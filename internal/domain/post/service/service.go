// Package service implements posts: the like/retweet counter ledgers, reply
// threading, and the moderated delete path.
//
// Every counter mutation is a single atomic read-modify-write of the whole
// (count, membership set) pair against the post document, which makes
// toggles idempotent under retries and safe under concurrent callers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/flock/internal/apperror"
	"github.com/vadim/flock/internal/domain/post/entity"
	userentity "github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/store"
)

const postsCollection = "posts"

// DefaultFeedLimit bounds feed pages when the caller does not ask for one.
const DefaultFeedLimit = 50

// UserEnsurer lazily materializes a user record before a post references it.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, userID string) (*userentity.User, error)
}

// AccessPolicy is the moderation predicate consulted on the delete path.
type AccessPolicy interface {
	CanDelete(actorID, authorID string) bool
}

// Service handles post business logic.
type Service struct {
	store  store.EntityStore
	users  UserEnsurer
	policy AccessPolicy
}

// New creates a new post service.
func New(st store.EntityStore, users UserEnsurer, policy AccessPolicy) *Service {
	return &Service{store: st, users: users, policy: policy}
}

// CreateInput carries a new top-level post.
type CreateInput struct {
	AuthorID string
	Text     string
}

// Create publishes a new post.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Post, error) {
	if err := entity.ValidateText(in.Text); err != nil {
		return nil, err
	}
	if _, err := s.users.EnsureUser(ctx, in.AuthorID); err != nil {
		return nil, err
	}

	post := newPost(in.AuthorID, in.Text, "")
	doc, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("encoding post: %w", err)
	}
	if err := s.store.Put(ctx, postsCollection, post.ID, doc); err != nil {
		return nil, fmt.Errorf("storing post: %w", err)
	}
	return &post, nil
}

// Get retrieves a post by id.
func (s *Service) Get(ctx context.Context, postID string) (*entity.Post, error) {
	doc, err := s.store.Get(ctx, postsCollection, postID)
	if err != nil {
		return nil, err
	}
	post, err := decodePost(doc)
	if err != nil {
		return nil, fmt.Errorf("decoding post %s: %w", postID, err)
	}
	return post, nil
}

// ToggleLikeOutput is the post-toggle like state.
type ToggleLikeOutput struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

// ToggleLike flips the actor's like on the post: adds it when absent,
// removes it when present. A retried toggle after a successful commit is a
// normal second toggle, never a duplicate increment.
func (s *Service) ToggleLike(ctx context.Context, postID, actorID string) (*ToggleLikeOutput, error) {
	if _, err := s.users.EnsureUser(ctx, actorID); err != nil {
		return nil, err
	}

	var out ToggleLikeOutput
	err := s.store.RunAtomic(ctx, postsCollection, postID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, apperror.NotFound("post", postID)
		}
		post, err := decodePost(cur)
		if err != nil {
			return nil, err
		}
		out.Liked = post.ToggleLike(actorID)
		out.LikeCount = post.LikeCount
		return json.Marshal(post)
	})
	if err != nil {
		return nil, fmt.Errorf("toggling like on %s: %w", postID, err)
	}
	return &out, nil
}

// ToggleRetweetOutput is the post-toggle retweet state.
type ToggleRetweetOutput struct {
	Retweeted    bool `json:"retweeted"`
	RetweetCount int  `json:"retweet_count"`
}

// ToggleRetweet flips the actor's retweet on the post. Authors cannot
// retweet their own posts; the check runs inside the atomic unit so a
// refused toggle leaves the ledger untouched.
func (s *Service) ToggleRetweet(ctx context.Context, postID, actorID string) (*ToggleRetweetOutput, error) {
	if _, err := s.users.EnsureUser(ctx, actorID); err != nil {
		return nil, err
	}

	var out ToggleRetweetOutput
	err := s.store.RunAtomic(ctx, postsCollection, postID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, apperror.NotFound("post", postID)
		}
		post, err := decodePost(cur)
		if err != nil {
			return nil, err
		}
		if post.AuthorID == actorID {
			return nil, entity.ErrSelfRetweet
		}
		out.Retweeted = post.ToggleRetweet(actorID)
		out.RetweetCount = post.RetweetCount
		return json.Marshal(post)
	})
	if err != nil {
		return nil, fmt.Errorf("toggling retweet on %s: %w", postID, err)
	}
	return &out, nil
}

// CreateReply publishes a reply and advances the parent's reply counter in
// one transaction: the reply is never visible without the increment, and
// the increment never lands without the reply.
func (s *Service) CreateReply(ctx context.Context, parentPostID, authorID, text string) (*entity.Post, error) {
	if err := entity.ValidateText(text); err != nil {
		return nil, err
	}
	if _, err := s.users.EnsureUser(ctx, authorID); err != nil {
		return nil, err
	}

	reply := newPost(authorID, text, parentPostID)
	err := s.store.RunAtomic2(ctx,
		store.Key{Collection: postsCollection, ID: reply.ID},
		store.Key{Collection: postsCollection, ID: parentPostID},
		func(cur, parentCur []byte) ([]byte, []byte, error) {
			if parentCur == nil {
				return nil, nil, apperror.NotFound("post", parentPostID)
			}
			parent, err := decodePost(parentCur)
			if err != nil {
				return nil, nil, err
			}
			parent.ReplyCount++

			replyDoc, err := json.Marshal(reply)
			if err != nil {
				return nil, nil, err
			}
			parentDoc, err := json.Marshal(parent)
			if err != nil {
				return nil, nil, err
			}
			return replyDoc, parentDoc, nil
		})
	if err != nil {
		return nil, fmt.Errorf("creating reply to %s: %w", parentPostID, err)
	}
	return &reply, nil
}

// BuildThread reconstructs the reply tree under rootPostID. Replies are
// ordered by creation time ascending at every level. The reply graph is
// finite and acyclic (a parent always predates its replies), so the
// recursion is bounded.
func (s *Service) BuildThread(ctx context.Context, rootPostID string) (*entity.Thread, error) {
	root, err := s.Get(ctx, rootPostID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.List(ctx, postsCollection)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	children := make(map[string][]entity.Post)
	for _, rec := range records {
		post, err := decodePost(rec.Doc)
		if err != nil {
			return nil, fmt.Errorf("decoding post %s: %w", rec.ID, err)
		}
		if post.ParentPostID != "" {
			children[post.ParentPostID] = append(children[post.ParentPostID], *post)
		}
	}
	for _, replies := range children {
		sort.Slice(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
	}

	return buildNode(*root, children), nil
}

func buildNode(post entity.Post, children map[string][]entity.Post) *entity.Thread {
	node := &entity.Thread{Post: post}
	for _, reply := range children[post.ID] {
		node.Replies = append(node.Replies, buildNode(reply, children))
	}
	return node
}

// List returns posts for the global feed, newest first. cursor, when set,
// is the created_at of the last post of the previous page (RFC 3339).
func (s *Service) List(ctx context.Context, limit int, cursor string) ([]entity.Post, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}

	var before time.Time
	if cursor != "" {
		var err error
		before, err = time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, apperror.InvalidInput("cursor", "cursor must be an RFC 3339 timestamp")
		}
	}

	records, err := s.store.List(ctx, postsCollection)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	posts := make([]entity.Post, 0, len(records))
	for _, rec := range records {
		post, err := decodePost(rec.Doc)
		if err != nil {
			return nil, fmt.Errorf("decoding post %s: %w", rec.ID, err)
		}
		if !before.IsZero() && !post.CreatedAt.Before(before) {
			continue
		}
		posts = append(posts, *post)
	}

	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// ListByAuthor returns one user's posts, newest first.
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]entity.Post, error) {
	records, err := s.store.List(ctx, postsCollection)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	var posts []entity.Post
	for _, rec := range records {
		post, err := decodePost(rec.Doc)
		if err != nil {
			return nil, fmt.Errorf("decoding post %s: %w", rec.ID, err)
		}
		if post.AuthorID == authorID {
			posts = append(posts, *post)
		}
	}

	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

// Delete removes a post. The access policy is re-validated inside the
// atomic unit, immediately before the delete commits, so a permission
// change between display and action cannot slip through. Deleting a reply
// decrements its parent's reply counter in the same transaction; replies of
// the deleted post are orphaned and simply drop out of thread views.
func (s *Service) Delete(ctx context.Context, postID, actorID string) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}

	if post.ParentPostID == "" {
		err = s.store.RunAtomic(ctx, postsCollection, postID, func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, apperror.NotFound("post", postID)
			}
			current, err := decodePost(cur)
			if err != nil {
				return nil, err
			}
			if !s.policy.CanDelete(actorID, current.AuthorID) {
				return nil, entity.ErrDeleteForbidden
			}
			return nil, nil
		})
	} else {
		err = s.store.RunAtomic2(ctx,
			store.Key{Collection: postsCollection, ID: postID},
			store.Key{Collection: postsCollection, ID: post.ParentPostID},
			func(cur, parentCur []byte) ([]byte, []byte, error) {
				if cur == nil {
					return nil, nil, apperror.NotFound("post", postID)
				}
				current, err := decodePost(cur)
				if err != nil {
					return nil, nil, err
				}
				if !s.policy.CanDelete(actorID, current.AuthorID) {
					return nil, nil, entity.ErrDeleteForbidden
				}
				if parentCur == nil {
					// Parent already gone; nothing to decrement.
					return nil, nil, nil
				}
				parent, err := decodePost(parentCur)
				if err != nil {
					return nil, nil, err
				}
				if parent.ReplyCount > 0 {
					parent.ReplyCount--
				}
				parentDoc, err := json.Marshal(parent)
				if err != nil {
					return nil, nil, err
				}
				return nil, parentDoc, nil
			})
	}
	if err != nil {
		return fmt.Errorf("deleting post %s: %w", postID, err)
	}
	return nil
}

func newPost(authorID, text, parentPostID string) entity.Post {
	return entity.Post{
		ID:           uuid.New().String(),
		AuthorID:     authorID,
		Text:         text,
		ParentPostID: parentPostID,
		LikedBy:      []string{},
		RetweetedBy:  []string{},
		CreatedAt:    time.Now().UTC(),
	}
}

func decodePost(doc []byte) (*entity.Post, error) {
	var post entity.Post
	if err := json.Unmarshal(doc, &post); err != nil {
		return nil, err
	}
	return &post, nil
}
