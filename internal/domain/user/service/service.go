// Package service implements user profiles and the follow graph.
//
// A follow edge is stored on both endpoints but only the acting user's
// FollowingIDs set is authoritative. The two writes are not a cross-document
// transaction: the authoritative side commits first and the follower
// projection second, and Reconcile repairs any drift between them.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vadim/flock/internal/apperror"
	"github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/store"
)

const (
	usersCollection   = "users"
	handlesCollection = "handles"
)

// AdminChecker reports admin membership. It is backed by the configured
// allow-list, so the flag on returned users is never persisted.
type AdminChecker interface {
	IsAdmin(userID string) bool
}

// Service handles user and follow-graph business logic.
type Service struct {
	store  store.EntityStore
	admins AdminChecker
}

// Option configures a Service.
type Option func(*Service)

// WithAdminChecker stamps the IsAdmin flag on returned users.
func WithAdminChecker(a AdminChecker) Option {
	return func(s *Service) { s.admins = a }
}

// New creates a new user service.
func New(st store.EntityStore, opts ...Option) *Service {
	s := &Service{store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) stamp(user *entity.User) *entity.User {
	if s.admins != nil {
		user.IsAdmin = s.admins.IsAdmin(user.ID)
	}
	return user
}

// EnsureUser returns the user record, lazily materializing it with safe
// defaults when it does not exist yet. Every component that is about to
// reference a userId goes through here first.
func (s *Service) EnsureUser(ctx context.Context, userID string) (*entity.User, error) {
	if userID == "" {
		return nil, apperror.InvalidInput("user_id", "user id is required")
	}

	var user entity.User
	err := s.store.RunAtomic(ctx, usersCollection, userID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			now := time.Now().UTC()
			user = entity.User{
				ID:           userID,
				FollowerIDs:  []string{},
				FollowingIDs: []string{},
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return json.Marshal(user)
		}
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring user %s: %w", userID, err)
	}
	return s.stamp(&user), nil
}

// Get retrieves a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*entity.User, error) {
	doc, err := s.store.Get(ctx, usersCollection, userID)
	if err != nil {
		return nil, err
	}
	var user entity.User
	if err := json.Unmarshal(doc, &user); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", userID, err)
	}
	return s.stamp(&user), nil
}

// GetByHandle retrieves a user by handle. Lookup is case-folded.
func (s *Service) GetByHandle(ctx context.Context, handle string) (*entity.User, error) {
	ref, err := s.store.Get(ctx, handlesCollection, entity.FoldHandle(handle))
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, string(ref))
}

// UpdateProfileInput carries the fields of a profile edit. Nil fields are
// left unchanged.
type UpdateProfileInput struct {
	DisplayName *string
	Handle      *string
	AvatarURL   *string
}

// UpdateProfile applies a profile edit. A handle change claims the new
// case-folded handle first, updates the profile second, and releases the
// old handle last, so the unique mapping never points at two users.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*entity.User, error) {
	var folded string
	if in.Handle != nil {
		if err := entity.ValidateHandle(*in.Handle); err != nil {
			return nil, err
		}
		folded = entity.FoldHandle(*in.Handle)
		if err := s.claimHandle(ctx, folded, userID); err != nil {
			return nil, err
		}
	}

	var user entity.User
	var previousHandle string
	err := s.store.RunAtomic(ctx, usersCollection, userID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, apperror.NotFound("user", userID)
		}
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		previousHandle = user.Handle
		if in.DisplayName != nil {
			user.DisplayName = *in.DisplayName
		}
		if in.Handle != nil {
			user.Handle = folded
		}
		if in.AvatarURL != nil {
			user.AvatarURL = *in.AvatarURL
		}
		user.UpdatedAt = time.Now().UTC()
		return json.Marshal(user)
	})
	if err != nil {
		return nil, fmt.Errorf("updating profile %s: %w", userID, err)
	}

	if in.Handle != nil && previousHandle != "" && previousHandle != folded {
		if err := s.releaseHandle(ctx, previousHandle, userID); err != nil {
			return nil, fmt.Errorf("releasing handle %s: %w", previousHandle, err)
		}
	}
	return s.stamp(&user), nil
}

func (s *Service) claimHandle(ctx context.Context, folded, userID string) error {
	return s.store.RunAtomic(ctx, handlesCollection, folded, func(cur []byte) ([]byte, error) {
		if cur != nil && string(cur) != userID {
			return nil, entity.ErrHandleTaken
		}
		return []byte(userID), nil
	})
}

func (s *Service) releaseHandle(ctx context.Context, folded, userID string) error {
	return s.store.RunAtomic(ctx, handlesCollection, folded, func(cur []byte) ([]byte, error) {
		if cur == nil || string(cur) != userID {
			return cur, nil
		}
		return nil, nil
	})
}

// Follow adds the follow edge actor -> target. Both records are ensured to
// exist first, so the mutation never fails merely because one side was
// never materialized. Calling it twice leaves a single edge.
func (s *Service) Follow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return entity.ErrSelfFollow
	}
	if _, err := s.EnsureUser(ctx, actorID); err != nil {
		return err
	}
	if _, err := s.EnsureUser(ctx, targetID); err != nil {
		return err
	}

	// Authoritative side first.
	err := s.store.RunAtomic(ctx, usersCollection, actorID, func(cur []byte) ([]byte, error) {
		var user entity.User
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		user.AddFollowing(targetID)
		user.UpdatedAt = time.Now().UTC()
		return json.Marshal(user)
	})
	if err != nil {
		return fmt.Errorf("adding following edge %s -> %s: %w", actorID, targetID, err)
	}

	// Derived projection second. A failure here leaves a recoverable
	// inconsistency the reconciliation sweep repairs.
	err = s.store.RunAtomic(ctx, usersCollection, targetID, func(cur []byte) ([]byte, error) {
		var user entity.User
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		user.AddFollower(actorID)
		user.UpdatedAt = time.Now().UTC()
		return json.Marshal(user)
	})
	if err != nil {
		return fmt.Errorf("adding follower projection %s -> %s: %w", actorID, targetID, err)
	}
	return nil
}

// Unfollow removes the follow edge actor -> target in the same two-step
// order as Follow. Removing an absent edge is a no-op.
func (s *Service) Unfollow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return entity.ErrSelfFollow
	}
	if _, err := s.EnsureUser(ctx, actorID); err != nil {
		return err
	}
	if _, err := s.EnsureUser(ctx, targetID); err != nil {
		return err
	}

	err := s.store.RunAtomic(ctx, usersCollection, actorID, func(cur []byte) ([]byte, error) {
		var user entity.User
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		user.RemoveFollowing(targetID)
		user.UpdatedAt = time.Now().UTC()
		return json.Marshal(user)
	})
	if err != nil {
		return fmt.Errorf("removing following edge %s -> %s: %w", actorID, targetID, err)
	}

	err = s.store.RunAtomic(ctx, usersCollection, targetID, func(cur []byte) ([]byte, error) {
		var user entity.User
		if err := json.Unmarshal(cur, &user); err != nil {
			return nil, err
		}
		user.RemoveFollower(actorID)
		user.UpdatedAt = time.Now().UTC()
		return json.Marshal(user)
	})
	if err != nil {
		return fmt.Errorf("removing follower projection %s -> %s: %w", actorID, targetID, err)
	}
	return nil
}

// IsFollowing re-derives follow state from the actor's authoritative
// FollowingIDs. A never-materialized actor follows nobody.
func (s *Service) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	user, err := s.Get(ctx, actorID)
	if err != nil {
		if errorsIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return user.IsFollowing(targetID), nil
}

// Reconcile sweeps every user and rebuilds the FollowerIDs projection from
// the authoritative FollowingIDs sets. It returns how many records were
// repaired. Runs out of the hot path, scheduled periodically.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	records, err := s.store.List(ctx, usersCollection)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}

	followers := make(map[string][]string)
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[rec.ID] = struct{}{}
	}
	for _, rec := range records {
		var user entity.User
		if err := json.Unmarshal(rec.Doc, &user); err != nil {
			return 0, fmt.Errorf("decoding user %s: %w", rec.ID, err)
		}
		for _, targetID := range user.FollowingIDs {
			if _, ok := known[targetID]; ok {
				followers[targetID] = append(followers[targetID], user.ID)
			}
		}
	}

	repaired := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		want := followers[rec.ID]
		sort.Strings(want)

		var changed bool
		err := s.store.RunAtomic(ctx, usersCollection, rec.ID, func(cur []byte) ([]byte, error) {
			changed = false
			if cur == nil {
				return nil, nil
			}
			var user entity.User
			if err := json.Unmarshal(cur, &user); err != nil {
				return nil, err
			}
			have := append([]string(nil), user.FollowerIDs...)
			sort.Strings(have)
			if equalIDs(have, want) {
				return cur, nil
			}
			changed = true
			user.FollowerIDs = append([]string{}, want...)
			user.UpdatedAt = time.Now().UTC()
			return json.Marshal(user)
		})
		if err != nil {
			return repaired, fmt.Errorf("repairing followers of %s: %w", rec.ID, err)
		}
		if changed {
			repaired++
		}
	}
	return repaired, nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
