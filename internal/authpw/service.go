// Package authpw provides email/password sign-in and admin account seeding.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"agitracker/api/internal/rbac"
	"agitracker/api/internal/store"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingCredentials = errors.New("email and password are required")
)

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpsertUserCredentials(ctx context.Context, email, name, passwordHash, role string) (store.User, error)
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// SignIn authenticates a user. Unknown emails and wrong passwords fail the same way.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return store.User{}, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.PasswordHash == "" {
		// OAuth-only account.
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// CreateAdminRequest contains the seeded account's details
type CreateAdminRequest struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// CreateAdmin creates the account, or resets the password and role of an existing one.
func (s *Service) CreateAdmin(ctx context.Context, req CreateAdminRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("invalid email %q", req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	role := req.Role
	if role == "" {
		role = string(rbac.RoleAdmin)
	}
	if !rbac.Valid(role) {
		return store.User{}, fmt.Errorf("unknown role %q", role)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Admin"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.UpsertUserCredentials(ctx, email, name, string(hash), role)
	if err != nil {
		return store.User{}, fmt.Errorf("save admin: %w", err)
	}
	return user, nil
}
