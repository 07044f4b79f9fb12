package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// normalizePair orders a participant pair so the smaller identifier comes
// first, matching the conversations_pair_ordered constraint.
func normalizePair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

// FindOrCreateConversation returns the conversation for an unordered
// participant pair, creating it if none exists. It is race-safe: two
// concurrent first-contact calls resolve through the pair uniqueness
// constraint — lookup, insert-on-conflict-do-nothing, then re-lookup for the
// loser of the race. Returns the conversation and whether it was created.
func (s *Store) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, bool, error) {
	if userA == userB {
		return nil, false, ErrSelfConversation
	}
	a, b := normalizePair(userA, userB)

	conv, err := s.getConversationByPair(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	const insert = `
		INSERT INTO conversations (id, user_a, user_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_a, user_b) DO NOTHING
		RETURNING id, user_a, user_b, created_at, updated_at`

	conv = &Conversation{}
	err = s.db.QueryRowContext(ctx, insert, uuid.New().String(), a, b).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt)
	if err == nil {
		return conv, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: the other caller inserted the row between our
		// lookup and insert. Fetch what they created.
		conv, err = s.getConversationByPair(ctx, a, b)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
		// One of the participants does not exist.
		return nil, false, ErrNotFound
	}
	return nil, false, fmt.Errorf("store: create conversation: %w", err)
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	const query = `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE id = $1`

	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) getConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	const query = `
		SELECT id, user_a, user_b, created_at, updated_at
		FROM conversations
		WHERE user_a = $1 AND user_b = $2`

	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, query, a, b).Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation by pair: %w", err)
	}
	return conv, nil
}

// ListConversations returns every conversation the user participates in,
// projected with the other participant, the last message, and the viewer's
// unread count, ordered by most-recent activity descending.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	const query = `
		SELECT c.id, c.updated_at,
		       u.id, u.name, u.email, u.role,
		       lm.content, lm.created_at,
		       (SELECT COUNT(*) FROM messages
		        WHERE conversation_id = c.id AND sender_id <> $1 AND NOT is_read)
		FROM conversations c
		JOIN users u
		  ON u.id = CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END
		LEFT JOIN LATERAL (
			SELECT content, created_at FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			cs        ConversationSummary
			content   sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(
			&cs.ID, &cs.UpdatedAt,
			&cs.Participant.ID, &cs.Participant.Name, &cs.Participant.Email, &cs.Participant.Role,
			&content, &createdAt,
			&cs.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("store: scan conversation summary: %w", err)
		}
		if content.Valid {
			cs.LastMessage = &LastMessage{Content: content.String, CreatedAt: createdAt.Time}
		}
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	return summaries, nil
}
