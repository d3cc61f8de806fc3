// Package auth handles credentials and tokens: bcrypt password hashing,
// short-lived HS256 access tokens, and long-lived refresh tokens stored
// only as SHA-256 hashes. The core packages never see a token; they work
// from the Principal the middleware extracts.
package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ryoh/typerank/internal/typing"
)

// Defaults applied by NewService for zero Options fields.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenStore is the slice of the storage layer the auth service needs.
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, t *typing.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*typing.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tokenID string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}

// Options configures a Service. Secret is required; everything else has a
// sensible default.
type Options struct {
	// Secret signs access tokens. Rotating it invalidates every token
	// in flight.
	Secret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// BcryptCost is clamped to bcrypt's supported range.
	BcryptCost int
}

// Service issues and verifies credentials against a token store.
type Service struct {
	store      TokenStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewService builds a Service from opts.
func NewService(store TokenStore, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("token store cannot be nil")
	}
	if opts.Secret == "" {
		return nil, errors.New("auth secret cannot be empty")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	cost := opts.BcryptCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	return &Service{
		store:      store,
		secret:     []byte(opts.Secret),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		bcryptCost: cost,
		now:        time.Now,
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// HashPassword derives a bcrypt hash for storage.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a stored hash. A mismatch is a
// BAD_CREDENTIALS validation error, indistinguishable from an unknown
// account at the transport.
func (s *Service) VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return typing.ValidationError(typing.ReasonBadCredentials)
	}
	return nil
}

// TokenPair is what a successful register, login, or refresh hands to the
// client.
type TokenPair struct {
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	AccessExpiresIn int64  `json:"accessExpiresIn"` // seconds
}

// IssueTokens mints a fresh access/refresh pair for user.
func (s *Service) IssueTokens(ctx context.Context, user *typing.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresIn: int64(s.accessTTL.Seconds()),
	}, nil
}
