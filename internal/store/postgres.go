package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type PostgresStore struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, types: pgtype.NewMap()}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// array wraps a slice destination so database/sql can scan Postgres arrays into it.
func (s *PostgresStore) array(dest *[]string) sql.Scanner {
	return s.types.SQLScanner(dest)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, COALESCE(name, ''), COALESCE(password_hash, ''), role, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES ($1, LOWER($2), NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING `+userColumns,
		user.ID, strings.TrimSpace(user.Email), user.Name, user.PasswordHash, user.Role)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return User{}, fmt.Errorf("create user %s: email already registered", user.Email)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// UpsertUserCredentials creates the user or resets the password and role of an existing one.
func (s *PostgresStore) UpsertUserCredentials(ctx context.Context, email, name, passwordHash, role string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES ($1, LOWER($2), NULLIF($3, ''), $4, $5)
		ON CONFLICT (email) DO UPDATE
		SET password_hash=EXCLUDED.password_hash,
			role=EXCLUDED.role,
			name=COALESCE(EXCLUDED.name, users.name),
			updated_at=NOW()
		RETURNING `+userColumns,
		uuid.NewString(), strings.TrimSpace(email), name, passwordHash, role)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id, role string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET role=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, id, role)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("update user role: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []OutboxEvent) error {
	for _, event := range events {
		payload := event.RawPayload
		if event.Payload != nil {
			encoded, err := json.Marshal(event.Payload)
			if err != nil {
				return fmt.Errorf("encode %s payload: %w", event.Kind, err)
			}
			payload = encoded
		}
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO outbox_events (kind, payload) VALUES ($1, $2::jsonb)`, event.Kind, string(payload)); err != nil {
			return fmt.Errorf("enqueue %s: %w", event.Kind, err)
		}
	}
	return nil
}

func pageOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
