package models

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrAdminBan      = errors.New("admin cannot be banned")
	ErrAlreadyBanned = errors.New("user already banned")
	ErrNotBanned     = errors.New("user not banned")
)

// EnsureUser creates the user with a zero post count if the name has not been
// seen before. Logging in twice with the same name never duplicates or resets
// the record.
func EnsureUser(db *sql.DB, name string) error {
	_, err := db.Exec(`INSERT INTO users (name, post_count) VALUES (?, 0)
		ON CONFLICT(name) DO NOTHING`, name)
	return err
}

func GetUser(db *sql.DB, name string) (*User, error) {
	row := db.QueryRow(`SELECT name, post_count FROM users WHERE name = ?`, name)
	var u User
	if err := row.Scan(&u.Name, &u.PostCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateTopic inserts the topic together with its opening post and bumps the
// author's post count, all in one transaction.
func CreateTopic(db *sql.DB, id, category, title, author, content string, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO topics (id, category, title, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, category, title, author, now); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO posts (topic_id, author, content, created_at) VALUES (?, ?, ?, ?)`,
		id, author, content, now); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`UPDATE users SET post_count = post_count + 1 WHERE name = ?`, author); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AddReply appends a post to an existing topic and bumps the author's post
// count. Returns ErrTopicNotFound when the id does not resolve.
func AddReply(db *sql.DB, topicID, author, content string, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM topics WHERE id = ?`, topicID).Scan(&exists); err != nil {
		tx.Rollback()
		return err
	}
	if exists == 0 {
		tx.Rollback()
		return ErrTopicNotFound
	}
	if _, err := tx.Exec(`INSERT INTO posts (topic_id, author, content, created_at) VALUES (?, ?, ?, ?)`,
		topicID, author, content, now); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`UPDATE users SET post_count = post_count + 1 WHERE name = ?`, author); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListTopics returns the topics of one category, newest first, each with its
// posts in chronological order.
func ListTopics(db *sql.DB, category string) ([]Topic, error) {
	rows, err := db.Query(`SELECT id, category, title, author, created_at FROM topics
		WHERE category = ? ORDER BY id DESC`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Category, &t.Title, &t.Author, &t.CreatedAt); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range topics {
		posts, err := listPosts(db, topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].Posts = posts
	}
	return topics, nil
}

// GetTopic loads one topic with its posts in chronological order.
func GetTopic(db *sql.DB, id string) (*Topic, error) {
	row := db.QueryRow(`SELECT id, category, title, author, created_at FROM topics WHERE id = ?`, id)
	var t Topic
	if err := row.Scan(&t.ID, &t.Category, &t.Title, &t.Author, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, err
	}
	posts, err := listPosts(db, id)
	if err != nil {
		return nil, err
	}
	t.Posts = posts
	return &t, nil
}

func listPosts(db *sql.DB, topicID string) ([]Post, error) {
	rows, err := db.Query(`SELECT id, topic_id, author, content, created_at FROM posts
		WHERE topic_id = ? ORDER BY id`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.TopicID, &p.Author, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func IsBanned(db *sql.DB, name string) (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM banned_users WHERE name = ?`, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// BanUser adds the name to the ban list. Admin is exempt; banning twice is
// rejected. The caller is responsible for revoking the banned user's session.
func BanUser(db *sql.DB, name string) error {
	if name == AdminName {
		return ErrAdminBan
	}
	banned, err := IsBanned(db, name)
	if err != nil {
		return err
	}
	if banned {
		return ErrAlreadyBanned
	}
	if _, err := db.Exec(`INSERT INTO banned_users (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("ban %q: %w", name, err)
	}
	return nil
}

// UnbanUser removes the name from the ban list, rejecting names that are not
// on it.
func UnbanUser(db *sql.DB, name string) error {
	res, err := db.Exec(`DELETE FROM banned_users WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("unban %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotBanned
	}
	return nil
}

func ListBanned(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM banned_users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CreateSession makes name the current identity for its client. A user has
// at most one live session; logging in again replaces the previous one.
func CreateSession(db *sql.DB, name, sessionID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE username = ? AND revoked_at IS NULL`, name); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO sessions (id, username) VALUES (?, ?)`, sessionID, name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func GetSession(db *sql.DB, id string) (*Session, error) {
	row := db.QueryRow(`SELECT id, username, created_at, revoked_at FROM sessions WHERE id = ?`, id)
	var s Session
	var revoked sql.NullTime
	if err := row.Scan(&s.ID, &s.Username, &s.CreatedAt, &revoked); err != nil {
		return nil, err
	}
	if revoked.Valid {
		s.RevokedAt = &revoked.Time
	}
	return &s, nil
}

func RevokeSession(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// RevokeUserSessions logs the named user out everywhere. Used when an admin
// bans the currently logged-in user.
func RevokeUserSessions(db *sql.DB, name string) error {
	_, err := db.Exec(`UPDATE sessions SET revoked_at = CURRENT_TIMESTAMP WHERE username = ? AND revoked_at IS NULL`, name)
	return err
}
