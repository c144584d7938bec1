package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ClaimOutboxEvents leases up to limit ready events for the caller. Rows
// locked by another worker are skipped, and a lease that runs out makes the
// event claimable again.
func (s *PostgresStore) ClaimOutboxEvents(ctx context.Context, limit int, lease time.Duration) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE outbox_events
		SET locked_until = NOW() + make_interval(secs => $2), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE processed_at IS NULL
				AND failed_at IS NULL
				AND available_at <= NOW()
				AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, attempts, available_at, COALESCE(last_error, ''), created_at
	`, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	items := make([]OutboxEvent, 0)
	for rows.Next() {
		var (
			event   OutboxEvent
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.Kind, &payload, &event.Attempts, &event.AvailableAt, &event.LastError, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		event.RawPayload = payload
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not preserve the subquery order.
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *PostgresStore) CompleteOutboxEvent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET processed_at=NOW(), locked_until=NULL, last_error=NULL WHERE id=$1
	`, id)
	if err != nil {
		return fmt.Errorf("complete outbox event: %w", err)
	}
	return nil
}

// RetryOutboxEvent releases the lease and makes the event available again at retryAt.
func (s *PostgresStore) RetryOutboxEvent(ctx context.Context, id int64, retryAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET available_at=$2, locked_until=NULL, last_error=$3 WHERE id=$1
	`, id, retryAt, lastError)
	if err != nil {
		return fmt.Errorf("retry outbox event: %w", err)
	}
	return nil
}

// FailOutboxEvent parks an event that exhausted its attempts.
func (s *PostgresStore) FailOutboxEvent(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET failed_at=NOW(), locked_until=NULL, last_error=$2 WHERE id=$1
	`, id, lastError)
	if err != nil {
		return fmt.Errorf("fail outbox event: %w", err)
	}
	return nil
}

type OutboxStats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

func (s *PostgresStore) OutboxStats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND failed_at IS NULL),
			COUNT(*) FILTER (WHERE failed_at IS NOT NULL)
		FROM outbox_events
	`).Scan(&stats.Pending, &stats.Failed)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}
