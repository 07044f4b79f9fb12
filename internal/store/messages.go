package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AppendMessage persists a new message in a conversation and bumps the
// conversation's last-activity timestamp in the same transaction. The
// returned message carries the server-assigned ID and timestamp — only those
// identities may be named in relay events. The sender must be a participant.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	conv, err := participantCheck(ctx, tx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	const insert = `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
	}
	if err := tx.QueryRowContext(ctx, insert, msg.ID, conv.ID, senderID, content).Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	const bump = `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, bump, conv.ID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit append: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's full history in ascending creation
// order and, in the same transaction, marks every unread message not sent by
// userID as read. The caller must be a participant.
func (s *Store) ListMessages(ctx context.Context, conversationID, userID string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin list: %w", err)
	}
	defer tx.Rollback()

	if _, err := participantCheck(ctx, tx, conversationID, userID); err != nil {
		return nil, err
	}

	const query = `
		SELECT id, conversation_id, sender_id, content, is_read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := tx.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	rows.Close()

	// Fetching the history is what drives the viewer's unread count to zero.
	const markRead = `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read`
	if _, err := tx.ExecContext(ctx, markRead, conversationID, userID); err != nil {
		return nil, fmt.Errorf("store: mark read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit list: %w", err)
	}
	return messages, nil
}

// UnreadCount returns the number of unread messages in a conversation that
// were not sent by userID.
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read`

	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	return count, nil
}

// participantCheck loads a conversation inside a transaction and verifies
// the user belongs to it.
func participantCheck(ctx context.Context, tx *sql.Tx, conversationID, userID string) (*Conversation, error) {
	const query = `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE id = $1`

	conv := &Conversation{}
	err := tx.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load conversation: %w", err)
	}
	if !conv.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}
