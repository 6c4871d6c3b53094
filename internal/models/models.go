package models

import (
	"strconv"
	"sync"
	"time"
)

// AdminName is the single privileged identity. Anyone logging in with this
// name (normalized case-insensitively at the login form) gets the admin
// panel; there is no password. The name can never appear in the ban list.
const AdminName = "Admin"

// Categories is the fixed, ordered set of topic categories. It is not
// persisted and cannot change at runtime.
var Categories = []string{"Tematy", "Ogłoszenia", "Serwery"}

// ValidCategory reports whether name is one of the fixed categories.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

type User struct {
	Name      string
	PostCount int
}

type Topic struct {
	ID        string
	Category  string
	Title     string
	Author    string
	CreatedAt time.Time
	Posts     []Post
}

// FirstPost returns the opening post shown as the topic teaser.
func (t *Topic) FirstPost() *Post {
	if len(t.Posts) == 0 {
		return nil
	}
	return &t.Posts[0]
}

type Post struct {
	ID        int
	TopicID   string
	Author    string
	Content   string
	CreatedAt time.Time
}

type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	RevokedAt *time.Time
}

var (
	idMu      sync.Mutex
	lastStamp int64
)

// NewTopicID returns an opaque id derived from the creation time, strictly
// increasing within the process so ids sort in creation order even when two
// topics land on the same clock tick.
func NewTopicID() string {
	idMu.Lock()
	defer idMu.Unlock()
	now := time.Now().UnixNano()
	if now <= lastStamp {
		now = lastStamp + 1
	}
	lastStamp = now
	return strconv.FormatInt(now, 36)
}
