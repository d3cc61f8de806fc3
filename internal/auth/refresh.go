package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ryoh/typerank/internal/storage"
	"github.com/ryoh/typerank/internal/typing"
)

// refreshTokenBytes is the entropy of one refresh token. The client gets
// the hex form; only its SHA-256 lands in the database.
const refreshTokenBytes = 32

// Rotation is the outcome of a successful refresh-token rotation.
type Rotation struct {
	UserID       string
	RefreshToken string
}

// IssueRefreshToken mints and stores a refresh token for userID, returning
// the plaintext the client must present later.
func (s *Service) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now()
	err := s.store.CreateRefreshToken(ctx, &typing.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RotateRefreshToken trades a live refresh token for a new one, revoking
// the old first so a replayed rotation fails. An unknown or expired token
// is a TOKEN_INVALID validation error.
func (s *Service) RotateRefreshToken(ctx context.Context, token string) (Rotation, error) {
	stored, err := s.lookup(ctx, token)
	if err != nil {
		return Rotation{}, err
	}

	// Revoke before reissuing: if the create below fails the user has to
	// log in again, but there is never a moment with two live tokens.
	if err := s.store.DeleteRefreshToken(ctx, stored.ID); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return Rotation{}, typing.ValidationError(typing.ReasonTokenInvalid)
		}
		return Rotation{}, err
	}

	next, err := s.IssueRefreshToken(ctx, stored.UserID)
	if err != nil {
		return Rotation{}, err
	}
	return Rotation{UserID: stored.UserID, RefreshToken: next}, nil
}

// RevokeRefreshToken invalidates a single refresh token. Revoking a token
// that is already gone is a no-op so logout never fails.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	stored, err := s.store.GetRefreshTokenByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteRefreshToken(ctx, stored.ID); err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return err
	}
	return nil
}

// RevokeAll invalidates every refresh token userID holds, across devices.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteUserRefreshTokens(ctx, userID)
}

// lookup resolves a presented token to its stored record, expiring it on
// sight when past its deadline.
func (s *Service) lookup(ctx context.Context, token string) (*typing.RefreshToken, error) {
	stored, err := s.store.GetRefreshTokenByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, typing.ValidationError(typing.ReasonTokenInvalid)
		}
		return nil, err
	}
	if s.now().After(stored.ExpiresAt) {
		_ = s.store.DeleteRefreshToken(ctx, stored.ID)
		return nil, typing.ValidationError(typing.ReasonTokenInvalid)
	}
	return stored, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
