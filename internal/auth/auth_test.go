package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ryoh/typerank/internal/storage"
	"github.com/ryoh/typerank/internal/typing"
)

func newTestService(t *testing.T) (*Service, *typing.User) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(store, Options{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)

	user := &typing.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "placeholder",
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return svc, user
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = NewService(nil, Options{Secret: "s"})
	assert.Error(t, err)

	_, err = NewService(store, Options{})
	assert.Error(t, err)

	svc, err := NewService(store, Options{Secret: "s"})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTTL, svc.accessTTL)
	assert.Equal(t, DefaultRefreshTTL, svc.refreshTTL)
	assert.Equal(t, bcrypt.DefaultCost, svc.bcryptCost)
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	hash, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, svc.VerifyPassword(hash, "correct horse battery staple"))

	err = svc.VerifyPassword(hash, "wrong password")
	require.Error(t, err)
	assert.Equal(t, typing.KindValidation, typing.KindOf(err))
	assert.Equal(t, typing.ReasonBadCredentials, typing.ReasonOf(err))
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)
	user.Role = typing.RoleAdmin

	token, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, typing.RoleAdmin, principal.Role)
	assert.True(t, principal.Admin())
}

func TestVerifyAccessTokenRejectsTampered(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)

	token, err := svc.IssueAccessToken(user)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = svc.VerifyAccessToken(tampered)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestVerifyAccessTokenRejectsForeignSecret(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)

	other, err := NewService(svc.store, Options{Secret: "different-secret"})
	require.NoError(t, err)

	token, err := other.IssueAccessToken(user)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestVerifyAccessTokenRejectsUnsignedAlgorithm(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)

	claims := accessClaims{
		Role: string(typing.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(unsigned)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestVerifyAccessTokenRejectsExpired(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)

	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.IssueAccessToken(user)
	require.NoError(t, err)

	// Still valid just before the deadline
	svc.now = func() time.Time { return issued.Add(DefaultAccessTTL - time.Second) }
	_, err = svc.VerifyAccessToken(token)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(DefaultAccessTTL + time.Minute) }
	_, err = svc.VerifyAccessToken(token)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)
	ctx := context.Background()

	original, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, original)

	rot, err := svc.RotateRefreshToken(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, user.ID, rot.UserID)
	assert.NotEmpty(t, rot.RefreshToken)
	assert.NotEqual(t, original, rot.RefreshToken)

	// The old token is burned; the new one still rotates
	_, err = svc.RotateRefreshToken(ctx, original)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))

	_, err = svc.RotateRefreshToken(ctx, rot.RefreshToken)
	assert.NoError(t, err)
}

func TestRotateRefreshTokenUnknown(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.RotateRefreshToken(context.Background(), "never-issued")
	require.Error(t, err)
	assert.Equal(t, typing.KindValidation, typing.KindOf(err))
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestRotateRefreshTokenExpired(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)
	ctx := context.Background()

	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(DefaultRefreshTTL + time.Hour) }
	_, err = svc.RotateRefreshToken(ctx, token)
	require.Error(t, err)
	assert.Equal(t, typing.ReasonTokenInvalid, typing.ReasonOf(err))
}

func TestRevokeRefreshToken(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefreshToken(ctx, token))

	_, err = svc.RotateRefreshToken(ctx, token)
	require.Error(t, err)

	// Revoking again is a silent no-op
	assert.NoError(t, svc.RevokeRefreshToken(ctx, token))
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)
	ctx := context.Background()

	first, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)
	second, err := svc.IssueRefreshToken(ctx, user.ID)
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, token := range []string{first, second} {
		_, err := svc.RotateRefreshToken(ctx, token)
		assert.Error(t, err)
	}
}

func TestIssueTokens(t *testing.T) {
	t.Parallel()

	svc, user := newTestService(t)

	pair, err := svc.IssueTokens(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(DefaultAccessTTL.Seconds()), pair.AccessExpiresIn)

	principal, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
}
