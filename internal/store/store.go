// Package store provides PostgreSQL-backed persistence for the chat backend:
// conversations, messages, user lookups, and material invitations. It is the
// single source of durable truth — the relay only ever names identities this
// package has already assigned.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Sentinel errors returned by store operations. Handlers map these onto
// HTTP status codes (404, 403, 400).
var (
	ErrNotFound         = errors.New("store: not found")
	ErrNotParticipant   = errors.New("store: user is not a participant")
	ErrEmptyContent     = errors.New("store: message content is empty")
	ErrSelfConversation = errors.New("store: cannot converse with yourself")
)

// Store wraps the database handle with chat persistence operations.
type Store struct {
	db *sql.DB
}

// User mirrors a row in the users table.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Conversation is the durable record of a one-to-one chat. UserA and UserB
// are stored normalized (UserA < UserB).
type Conversation struct {
	ID        string    `json:"id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Other returns the participant that is not userID, or an empty string if
// userID is not a participant.
func (c *Conversation) Other(userID string) string {
	if userID == c.UserA {
		return c.UserB
	}
	if userID == c.UserB {
		return c.UserA
	}
	return ""
}

// IsParticipant checks whether userID belongs to this conversation.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.UserA || userID == c.UserB
}

// Message mirrors a row in the messages table. Immutable once created,
// except for the read flag transitioning false -> true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// LastMessage is the most-recent-message projection on a conversation
// summary.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is one entry of the conversation-list projection: the
// other participant, the last message, and the viewer's unread count.
type ConversationSummary struct {
	ID          string       `json:"id"`
	Participant User         `json:"participant"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}
