package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"agitracker/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users map[string]store.User // email -> user
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := m.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockUserStore) UpsertUserCredentials(_ context.Context, email, name, passwordHash, role string) (store.User, error) {
	user, ok := m.users[email]
	if !ok {
		user = store.User{ID: "user-" + email, Email: email, Name: name}
	}
	user.PasswordHash = passwordHash
	user.Role = role
	m.users[email] = user
	return user, nil
}

func newTestService() (*Service, *mockUserStore) {
	users := newMockUserStore()
	svc := NewService(users)
	svc.cost = bcrypt.MinCost
	return svc, users
}

func TestCreateAdminThenSignIn(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateAdmin(ctx, CreateAdminRequest{Email: " Admin@AGITracker.io ", Password: "correct horse"})
	if err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}
	if created.Role != "admin" || created.Email != "admin@agitracker.io" || created.Name != "Admin" {
		t.Fatalf("unexpected user: %+v", created)
	}

	user, err := svc.SignIn(ctx, "admin@agitracker.io", "correct horse")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("SignIn() user = %q, want %q", user.ID, created.ID)
	}
}

func TestCreateAdminResetsExistingPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateAdmin(ctx, CreateAdminRequest{Email: "a@b.com", Password: "first-password"}); err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, CreateAdminRequest{Email: "a@b.com", Password: "second-password", Role: "editor"}); err != nil {
		t.Fatalf("CreateAdmin() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, "a@b.com", "first-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password error = %v, want %v", err, ErrInvalidCredentials)
	}
	user, err := svc.SignIn(ctx, "a@b.com", "second-password")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if user.Role != "editor" {
		t.Fatalf("role = %q, want editor", user.Role)
	}
}

func TestCreateAdminValidation(t *testing.T) {
	svc, _ := newTestService()
	cases := []CreateAdminRequest{
		{Email: "not-an-email", Password: "long-enough"},
		{Email: "a@b.com", Password: "short"},
		{Email: "a@b.com", Password: "long-enough", Role: "superuser"},
	}
	for _, req := range cases {
		if _, err := svc.CreateAdmin(context.Background(), req); err == nil {
			t.Errorf("CreateAdmin(%+v) succeeded, want error", req)
		}
	}
}

func TestSignInFailures(t *testing.T) {
	svc, users := newTestService()
	users.users["oauth@b.com"] = store.User{ID: "u1", Email: "oauth@b.com", Role: "user"}

	cases := []struct {
		email, password string
		want            error
	}{
		{"", "x", ErrMissingCredentials},
		{"nobody@b.com", "whatever", ErrInvalidCredentials},
		{"oauth@b.com", "whatever", ErrInvalidCredentials},
	}
	for _, tc := range cases {
		if _, err := svc.SignIn(context.Background(), tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Errorf("SignIn(%q) error = %v, want %v", tc.email, err, tc.want)
		}
	}
}
