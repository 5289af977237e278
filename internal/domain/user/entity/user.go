package entity

import (
	"strings"
	"time"
	"unicode/utf8"
)

// User is the profile plus follow-graph record for one account.
//
// FollowingIDs is the authoritative side of every follow edge; FollowerIDs
// is a derived projection repaired by the reconciliation sweep.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Handle       string    `json:"handle,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	FollowerIDs  []string  `json:"follower_ids"`
	FollowingIDs []string  `json:"following_ids"`
	IsAdmin      bool      `json:"is_admin,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsFollowing reports membership in the authoritative following set.
func (u *User) IsFollowing(targetID string) bool {
	return contains(u.FollowingIDs, targetID)
}

// AddFollowing adds targetID to the following set, idempotently.
func (u *User) AddFollowing(targetID string) {
	u.FollowingIDs = add(u.FollowingIDs, targetID)
}

// RemoveFollowing removes targetID from the following set, idempotently.
func (u *User) RemoveFollowing(targetID string) {
	u.FollowingIDs = remove(u.FollowingIDs, targetID)
}

// AddFollower adds actorID to the derived follower projection, idempotently.
func (u *User) AddFollower(actorID string) {
	u.FollowerIDs = add(u.FollowerIDs, actorID)
}

// RemoveFollower removes actorID from the derived follower projection.
func (u *User) RemoveFollower(actorID string) {
	u.FollowerIDs = remove(u.FollowerIDs, actorID)
}

func contains(ids []string, id string) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
}

func add(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, cur := range ids {
		if cur != id {
			out = append(out, cur)
		}
	}
	return out
}

// MaxHandleLength bounds the unique handle.
const MaxHandleLength = 30

// FoldHandle normalizes a handle for uniqueness lookups.
func FoldHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// ValidateHandle validates a proposed handle.
func ValidateHandle(handle string) error {
	folded := FoldHandle(handle)
	if folded == "" {
		return ErrEmptyHandle
	}
	if utf8.RuneCountInString(folded) > MaxHandleLength {
		return ErrHandleTooLong
	}
	for _, r := range folded {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return ErrInvalidHandle
		}
	}
	return nil
}
