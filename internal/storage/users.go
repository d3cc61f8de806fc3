package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryoh/typerank/internal/typing"
)

// Account sentinels. Each carries its taxonomy kind so the transport can
// map it to a status code without string matching.
var (
	ErrUserNotFound  = typing.NotFoundError(typing.ReasonUserNotFound)
	ErrUsernameTaken = typing.ConflictError(typing.ReasonUsernameTaken)
	ErrEmailTaken    = typing.ConflictError(typing.ReasonEmailTaken)
)

const userColumns = `user_id, username, email, password_hash, role, created_at_unix_ms`

// CreateUser inserts a new account. A zero ID, role, or creation time is
// filled in. Unique collisions map to the taken-name sentinels.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *typing.User) error {
	if u == nil {
		return errors.New("user cannot be nil")
	}
	if u.Username == "" || u.Email == "" || u.PasswordHash == "" {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = typing.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), unixMs(u.CreatedAt))
	if err != nil {
		if isDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "users.email") {
				return ErrEmailTaken
			}
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves an account by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*typing.User, error) {
	if userID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE user_id = ?
	`, userID)
	return scanUser(row)
}

// GetUserByUsername retrieves an account by its unique username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*typing.User, error) {
	if username == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = ?
	`, username)
	return scanUser(row)
}

// SetUserRole changes an account's role.
func (s *SQLiteStore) SetUserRole(ctx context.Context, userID string, role typing.Role) error {
	if role != typing.RoleUser && role != typing.RoleAdmin {
		return typing.ValidationError(typing.ReasonBadPayload)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role = ? WHERE user_id = ?
	`, string(role), userID)
	if err != nil {
		return fmt.Errorf("failed to set user role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*typing.User, error) {
	var u typing.User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = msTime(createdAt)
	return &u, nil
}
