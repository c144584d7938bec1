package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SessionTable is the relational session persistence.
type SessionTable interface {
	SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (string, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

// PostgresStore keeps sessions in the sessions table when Redis is not configured.
type PostgresStore struct {
	table SessionTable
}

func NewPostgresStore(table SessionTable) *PostgresStore {
	return &PostgresStore{table: table}
}

func (s *PostgresStore) Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return s.table.SaveSession(ctx, tokenHash, userID, expiresAt)
}

func (s *PostgresStore) Lookup(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.table.LookupSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return userID, err
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenHash string) error {
	return s.table.RevokeSession(ctx, tokenHash)
}
