package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/flock/internal/access"
	"github.com/vadim/flock/internal/apperror"
	"github.com/vadim/flock/internal/domain/user/entity"
	"github.com/vadim/flock/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Badger) {
	t.Helper()
	st, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestEnsureUserMaterializesDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Empty(t, user.FollowerIDs)
	assert.Empty(t, user.FollowingIDs)

	// A second call returns the existing record unchanged.
	again, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, user.CreatedAt, again.CreatedAt)
}

func TestFollowUnfollowScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Follow(ctx, "u1", "u2"))

	following, err := svc.IsFollowing(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, following)

	target, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Contains(t, target.FollowerIDs, "u1")

	require.NoError(t, svc.Unfollow(ctx, "u1", "u2"))

	following, err = svc.IsFollowing(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, following)

	target, err = svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.NotContains(t, target.FollowerIDs, "u1")
}

func TestFollowIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Follow(ctx, "u1", "u2"))
	require.NoError(t, svc.Follow(ctx, "u1", "u2"))

	actor, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, actor.FollowingIDs)

	target, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, target.FollowerIDs)

	following, err := svc.IsFollowing(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, following)
}

func TestSelfFollowForbidden(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Follow(context.Background(), "u1", "u1")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}

func TestIsFollowingUnknownActor(t *testing.T) {
	svc, _ := newTestService(t)

	following, err := svc.IsFollowing(context.Background(), "ghost", "u2")
	require.NoError(t, err)
	assert.False(t, following)
}

func TestReconcileRepairsFollowerProjection(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Follow(ctx, "u1", "u2"))
	require.NoError(t, svc.Follow(ctx, "u3", "u2"))

	// Simulate a partial failure: drop u2's follower projection and give
	// u1 a stale phantom follower.
	corrupt := func(id string, followers []string) {
		require.NoError(t, st.RunAtomic(ctx, "users", id, func(cur []byte) ([]byte, error) {
			var user entity.User
			require.NoError(t, json.Unmarshal(cur, &user))
			user.FollowerIDs = followers
			return json.Marshal(user)
		}))
	}
	corrupt("u2", []string{})
	corrupt("u1", []string{"u3"})

	repaired, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	u2, err := svc.Get(ctx, "u2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u3"}, u2.FollowerIDs)

	u1, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u1.FollowerIDs)

	// A clean graph needs no repairs.
	repaired, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestUpdateProfileHandleUniqueness(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.EnsureUser(ctx, "u2")
	require.NoError(t, err)

	handle := "Alice"
	_, err = svc.UpdateProfile(ctx, "u1", UpdateProfileInput{Handle: &handle})
	require.NoError(t, err)

	// Lookup is case-folded.
	found, err := svc.GetByHandle(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID)

	// Another user cannot take the same handle in any case.
	taken := "alice"
	_, err = svc.UpdateProfile(ctx, "u2", UpdateProfileInput{Handle: &taken})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	// Changing the handle releases the old one.
	renamed := "alice_2"
	_, err = svc.UpdateProfile(ctx, "u1", UpdateProfileInput{Handle: &renamed})
	require.NoError(t, err)

	_, err = svc.GetByHandle(ctx, "alice")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = svc.UpdateProfile(ctx, "u2", UpdateProfileInput{Handle: &taken})
	require.NoError(t, err)
}

func TestValidateHandle(t *testing.T) {
	tests := []struct {
		name    string
		handle  string
		wantErr error
	}{
		{"valid", "alice_99", nil},
		{"folded valid", " Alice ", nil},
		{"empty", "  ", entity.ErrEmptyHandle},
		{"bad rune", "alice!", entity.ErrInvalidHandle},
		{"too long", "a_very_long_handle_that_exceeds_thirty", entity.ErrHandleTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := entity.ValidateHandle(tt.handle)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAdminFlagComesFromPolicy(t *testing.T) {
	st, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := New(st, WithAdminChecker(access.New([]string{"root"})))
	ctx := context.Background()

	admin, err := svc.EnsureUser(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	regular, err := svc.EnsureUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, regular.IsAdmin)

	// The flag is derived on read, never persisted.
	doc, err := st.Get(ctx, "users", "root")
	require.NoError(t, err)
	var stored entity.User
	require.NoError(t, json.Unmarshal(doc, &stored))
	assert.False(t, stored.IsAdmin)
}
