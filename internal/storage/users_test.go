package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ryoh/typerank/internal/typing"
)

func TestSQLiteStore_CreateUser_Success(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	u := &typing.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "bcrypt-hash",
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	// Defaults are filled in place
	if u.ID == "" {
		t.Error("ID was not generated")
	}
	if u.Role != typing.RoleUser {
		t.Errorf("Role = %s, want %s", u.Role, typing.RoleUser)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}

	got, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.Username != u.Username {
		t.Errorf("Username = %s, want %s", got.Username, u.Username)
	}
	if got.Email != u.Email {
		t.Errorf("Email = %s, want %s", got.Email, u.Email)
	}
	if got.PasswordHash != u.PasswordHash {
		t.Errorf("PasswordHash = %s, want %s", got.PasswordHash, u.PasswordHash)
	}
	if got.Role != typing.RoleUser {
		t.Errorf("Role = %s, want %s", got.Role, typing.RoleUser)
	}
}

func TestSQLiteStore_CreateUser_DuplicateUsername(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	seedUser(t, store, "alice")

	err := store.CreateUser(context.Background(), &typing.User{
		Username:     "alice",
		Email:        "other@example.com",
		PasswordHash: "hash",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("CreateUser() error = %v, want ErrUsernameTaken", err)
	}
}

func TestSQLiteStore_CreateUser_DuplicateEmail(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	seedUser(t, store, "alice")

	err := store.CreateUser(context.Background(), &typing.User{
		Username:     "alice2",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("CreateUser() error = %v, want ErrEmailTaken", err)
	}
}

func TestSQLiteStore_CreateUser_Validation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	tests := []struct {
		name string
		user *typing.User
	}{
		{
			name: "missing username",
			user: &typing.User{Email: "a@example.com", PasswordHash: "hash"},
		},
		{
			name: "missing email",
			user: &typing.User{Username: "a", PasswordHash: "hash"},
		},
		{
			name: "missing password hash",
			user: &typing.User{Username: "a", Email: "a@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := store.CreateUser(context.Background(), tt.user)
			if typing.KindOf(err) != typing.KindValidation {
				t.Errorf("CreateUser() error = %v, want validation error", err)
			}
		})
	}

	if err := store.CreateUser(context.Background(), nil); err == nil {
		t.Error("Expected error for nil user")
	}
}

func TestSQLiteStore_GetUser_NotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetUser(context.Background(), "nonexistent")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestSQLiteStore_GetUserByUsername_Success(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	u := seedUser(t, store, "bob")

	got, err := store.GetUserByUsername(context.Background(), "bob")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %s, want %s", got.ID, u.ID)
	}
}

func TestSQLiteStore_GetUserByUsername_NotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetUserByUsername(context.Background(), "ghost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUserByUsername() error = %v, want ErrUserNotFound", err)
	}
}

func TestSQLiteStore_SetUserRole_Success(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	u := seedUser(t, store, "carol")

	if err := store.SetUserRole(context.Background(), u.ID, typing.RoleAdmin); err != nil {
		t.Fatalf("SetUserRole() error = %v", err)
	}

	got, err := store.GetUser(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.Role != typing.RoleAdmin {
		t.Errorf("Role = %s, want %s", got.Role, typing.RoleAdmin)
	}
}

func TestSQLiteStore_SetUserRole_InvalidRole(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	u := seedUser(t, store, "dave")

	err := store.SetUserRole(context.Background(), u.ID, typing.Role("superuser"))
	if typing.KindOf(err) != typing.KindValidation {
		t.Errorf("SetUserRole() error = %v, want validation error", err)
	}
}

func TestSQLiteStore_SetUserRole_NotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	defer store.Close()

	err := store.SetUserRole(context.Background(), "nonexistent", typing.RoleAdmin)
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetUserRole() error = %v, want ErrUserNotFound", err)
	}
}
