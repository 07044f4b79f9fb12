// Package session manages per-connection socket session records backed by
// Redis. A record binds a connection ID to the authenticated user behind it
// and remembers which conversation view the connection has open, so the
// disconnect handler and operational tooling can see who a connection was.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for all session hashes.
	Prefix = "chatsession:"

	// TTL is the time-to-live for session keys in Redis.
	TTL = 1 * time.Hour
)

// Session represents one connection's state stored in Redis.
type Session struct {
	ConnID         string `redis:"conn_id"`
	UserID         string `redis:"user_id"`
	UserName       string `redis:"user_name"`
	ConversationID string `redis:"conversation_id"` // empty when no chat view is open
	Server         string `redis:"server"`          // which chat server instance
	CreatedAt      int64  `redis:"created_at"`      // unix timestamp
	LastActive     int64  `redis:"last_active"`     // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this chat server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session in Redis for an authenticated connection.
func (s *Store) Create(ctx context.Context, connID, userID, userName string) error {
	key := Prefix + connID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"conn_id":         connID,
		"user_id":         userID,
		"user_name":       userName,
		"conversation_id": "",
		"server":          s.serverName,
		"created_at":      now,
		"last_active":     now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	key := Prefix + connID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ConnID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetConversation records the conversation view a connection has open and
// refreshes the TTL.
func (s *Store) SetConversation(ctx context.Context, connID, conversationID string) error {
	key := Prefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "conversation_id", conversationID, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearConversation removes the open-conversation marker.
func (s *Store) ClearConversation(ctx context.Context, connID string) error {
	key := Prefix + connID
	return s.client.HSet(ctx, key, "conversation_id", "", "last_active", time.Now().Unix()).Err()
}

// Touch refreshes the session's TTL and last-active timestamp.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := Prefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := Prefix + connID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
