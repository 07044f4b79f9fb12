package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InviteTTL is how long a material invitation stays valid.
const InviteTTL = 7 * 24 * time.Hour

// CreateMaterialInvites issues invitations to a material for a batch of
// users. Each invite gets a fresh token and a 7-day expiry; pairs that were
// already invited are skipped. Returns the number of invites created.
func (s *Store) CreateMaterialInvites(ctx context.Context, materialID, invitedByID string, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin invites: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO material_invites (id, material_id, invited_user_id, invited_by_id, token, expired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (material_id, invited_user_id) DO NOTHING`

	expiredAt := time.Now().Add(InviteTTL)
	created := 0
	for _, userID := range userIDs {
		res, err := tx.ExecContext(ctx, insert,
			uuid.New().String(), materialID, userID, invitedByID, uuid.New().String(), expiredAt)
		if err != nil {
			return 0, fmt.Errorf("store: insert invite for %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("store: invite rows affected: %w", err)
		}
		created += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit invites: %w", err)
	}
	return created, nil
}

// SearchInvitableUsers returns up to limit users matching q by name or email
// that are not already enrolled in the material.
func (s *Store) SearchInvitableUsers(ctx context.Context, materialID, q string, limit int) ([]User, error) {
	const query = `
		SELECT id, name, email, role FROM users
		WHERE (name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		  AND id NOT IN (
			SELECT user_id FROM course_enrollments WHERE material_id = $1
		  )
		ORDER BY name
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, materialID, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search invitable users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// AddEnrollment records a user's enrollment in a material.
func (s *Store) AddEnrollment(ctx context.Context, materialID, userID string) error {
	const query = `
		INSERT INTO course_enrollments (material_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, materialID, userID); err != nil {
		return fmt.Errorf("store: add enrollment: %w", err)
	}
	return nil
}
