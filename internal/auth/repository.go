// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type Repository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// Rotate stores next and marks previousID used in one transaction.
	// It fails with core.ErrConflict when previousID was already used.
	Rotate(ctx context.Context, previousID string, next *RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeByID(ctx context.Context, id string) error
	RevokeByFamilyID(ctx context.Context, familyID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

const refreshTokenColumns = `
	id, user_id, token_hash, family_id, expires_at, created_at,
	is_used, used_at, revoked_at, replaced_by_id, user_agent, ip_address`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func insertToken(ctx context.Context, q core.DBTX, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (
			id, user_id, token_hash, family_id, expires_at, user_agent, ip_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return q.GetContext(ctx, &token.CreatedAt, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.FamilyID,
		token.ExpiresAt,
		token.UserAgent,
		token.IPAddress,
	)
}

func (r *repository) Create(ctx context.Context, token *RefreshToken) error {
	if err := insertToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *repository) Rotate(
	ctx context.Context,
	previousID string,
	next *RefreshToken,
) error {
	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET is_used = true, used_at = NOW(), replaced_by_id = $2
			WHERE id = $1 AND is_used = false AND revoked_at IS NULL`,
			previousID, next.ID,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return core.ErrConflict
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return nil
}

func (r *repository) FindByHash(
	ctx context.Context,
	tokenHash string,
) (*RefreshToken, error) {
	var token RefreshToken
	err := r.db.GetContext(ctx, &token,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`,
		tokenHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

func (r *repository) revoke(ctx context.Context, op, column, value string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW()
		 WHERE `+column+` = $1 AND revoked_at IS NULL`,
		value,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *repository) RevokeByID(ctx context.Context, id string) error {
	return r.revoke(ctx, "revoke refresh token", "id", id)
}

func (r *repository) RevokeByFamilyID(ctx context.Context, familyID string) error {
	return r.revoke(ctx, "revoke token family", "family_id", familyID)
}

func (r *repository) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.revoke(ctx, "revoke user tokens", "user_id", userID)
}
