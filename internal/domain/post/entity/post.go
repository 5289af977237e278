package entity

import (
	"time"
	"unicode/utf8"
)

// Post is a single published post, optionally a reply to another one.
//
// Each count and its backing membership set form one atomic ledger: they
// are only ever updated together, so LikeCount == len(LikedBy) and
// RetweetCount == len(RetweetedBy) hold at all times. ReplyCount counts the
// posts whose ParentPostID references this one.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Text         string    `json:"text"`
	ParentPostID string    `json:"parent_post_id,omitempty"`
	LikeCount    int       `json:"like_count"`
	LikedBy      []string  `json:"liked_by"`
	RetweetCount int       `json:"retweet_count"`
	RetweetedBy  []string  `json:"retweeted_by"`
	ReplyCount   int       `json:"reply_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Thread is a post together with its replies, ordered by creation time.
type Thread struct {
	Post    Post      `json:"post"`
	Replies []*Thread `json:"replies,omitempty"`
}

// MaxTextLength is the maximum length of a post, in runes.
const MaxTextLength = 280

// ValidateText validates the text for a post.
func ValidateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// LikedByUser reports membership in the like ledger.
func (p *Post) LikedByUser(userID string) bool {
	return contains(p.LikedBy, userID)
}

// RetweetedByUser reports membership in the retweet ledger.
func (p *Post) RetweetedByUser(userID string) bool {
	return contains(p.RetweetedBy, userID)
}

// ToggleLike flips userID's membership in the like ledger and returns the
// new state. Count and set move together.
func (p *Post) ToggleLike(userID string) bool {
	if contains(p.LikedBy, userID) {
		p.LikedBy = remove(p.LikedBy, userID)
		p.LikeCount = len(p.LikedBy)
		return false
	}
	p.LikedBy = append(p.LikedBy, userID)
	p.LikeCount = len(p.LikedBy)
	return true
}

// ToggleRetweet flips userID's membership in the retweet ledger and returns
// the new state.
func (p *Post) ToggleRetweet(userID string) bool {
	if contains(p.RetweetedBy, userID) {
		p.RetweetedBy = remove(p.RetweetedBy, userID)
		p.RetweetCount = len(p.RetweetedBy)
		return false
	}
	p.RetweetedBy = append(p.RetweetedBy, userID)
	p.RetweetCount = len(p.RetweetedBy)
	return true
}

func contains(ids []string, id string) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
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
