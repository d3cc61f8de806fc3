package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ryoh/typerank/internal/typing"
)

const tokenIssuer = "typerank"

// Principal is the authenticated caller as seen by the handlers. The JWT
// middleware produces it; nothing below the transport decodes tokens.
type Principal struct {
	UserID string
	Role   typing.Role
}

// Admin reports whether the principal may perform operator actions.
func (p Principal) Admin() bool {
	return p.Role == typing.RoleAdmin
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAccessToken mints a signed HS256 access token for user.
func (s *Service) IssueAccessToken(user *typing.User) (string, error) {
	now := s.now()
	claims := accessClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyAccessToken checks the signature, expiry, and claims of an access
// token and returns the principal it names. Every failure collapses to a
// single TOKEN_INVALID validation error so callers cannot probe which
// check rejected them.
func (s *Service) VerifyAccessToken(tokenString string) (Principal, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil || !token.Valid {
		return Principal{}, typing.ValidationError(typing.ReasonTokenInvalid)
	}

	role := typing.Role(claims.Role)
	if claims.Subject == "" || (role != typing.RoleUser && role != typing.RoleAdmin) {
		return Principal{}, typing.ValidationError(typing.ReasonTokenInvalid)
	}
	return Principal{UserID: claims.Subject, Role: role}, nil
}
