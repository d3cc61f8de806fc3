package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryoh/typerank/internal/typing"
)

// ErrTokenNotFound is returned when a refresh token does not exist, has
// been rotated away, or was revoked.
var ErrTokenNotFound = typing.NotFoundError(typing.ReasonTokenNotFound)

// CreateRefreshToken stores the hash of an issued refresh token.
func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, t *typing.RefreshToken) error {
	if t == nil {
		return errors.New("refresh token cannot be nil")
	}
	if t.UserID == "" || t.TokenHash == "" {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_at_unix_ms, created_at_unix_ms)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.TokenHash, unixMs(t.ExpiresAt), unixMs(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash looks up a stored token by its hash.
func (s *SQLiteStore) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*typing.RefreshToken, error) {
	if tokenHash == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, user_id, token_hash, expires_at_unix_ms, created_at_unix_ms
		FROM refresh_tokens WHERE token_hash = ?
	`, tokenHash)

	var t typing.RefreshToken
	var expiresAt, createdAt int64
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	t.ExpiresAt = msTime(expiresAt)
	t.CreatedAt = msTime(createdAt)
	return &t, nil
}

// DeleteRefreshToken removes a single stored token, typically as the
// first half of a rotation.
func (s *SQLiteStore) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE token_id = ?
	`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteUserRefreshTokens revokes every stored token for a user.
func (s *SQLiteStore) DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = ?
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// PruneExpiredRefreshTokens removes tokens past their expiry.
func (s *SQLiteStore) PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at_unix_ms <= ?
	`, unixMs(now))
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
