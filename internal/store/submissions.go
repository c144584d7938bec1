package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const submissionColumns = `id, tool_data, submitter_email, submitter_name, status, rejection_reason, reviewed_by, reviewed_at, created_at`

func scanSubmission(row rowScanner) (Submission, error) {
	var (
		sub      Submission
		toolData []byte
	)
	err := row.Scan(&sub.ID, &toolData, &sub.SubmitterEmail, &sub.SubmitterName, &sub.Status,
		&sub.RejectionReason, &sub.ReviewedBy, &sub.ReviewedAt, &sub.CreatedAt)
	if err != nil {
		return Submission{}, err
	}
	sub.ToolData = toolData
	return sub, nil
}

// CreateSubmission stores a pending submission together with the events
// produced by followups, which receives the persisted row.
func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission, followups func(Submission) []OutboxEvent) (Submission, error) {
	var created Submission
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO submissions (tool_data, submitter_email, submitter_name, status)
			VALUES ($1::jsonb, $2, $3, 'pending')
			RETURNING `+submissionColumns,
			string(sub.ToolData), sub.SubmitterEmail, sub.SubmitterName)
		var err error
		created, err = scanSubmission(row)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		if followups == nil {
			return nil
		}
		return insertEvents(ctx, tx, followups(created))
	})
	if err != nil {
		return Submission{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
}

// ListPendingSubmissions returns every pending submission, newest first.
func (s *PostgresStore) ListPendingSubmissions(ctx context.Context) ([]Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE status='pending' ORDER BY created_at DESC, id DESC`)
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	return s.querySubmissions(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		filter.Status, filter.Limit, pageOffset(filter.Page, filter.Limit))
}

func (s *PostgresStore) CountSubmissions(ctx context.Context, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE ($1 = '' OR status = $1)`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) querySubmissions(ctx context.Context, query string, args ...any) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, sub)
	}
	return items, rows.Err()
}

type PromoteParams struct {
	SubmissionID int64
	ReviewerID   string
	ReviewedAt   time.Time
	Tool         Tool
	// Followups builds the events to enqueue once the tool row exists.
	Followups func(Tool) []OutboxEvent
}

// PromoteSubmission moves a pending submission to approved and creates its
// tool in one transaction. The status change is a compare-and-swap on
// status='pending', so only one caller can ever promote a given submission;
// the others get ErrNotPending and nothing is written.
func (s *PostgresStore) PromoteSubmission(ctx context.Context, params PromoteParams) (Tool, error) {
	var created Tool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status='approved', reviewed_by=NULLIF($2, ''), reviewed_at=$3
			WHERE id=$1 AND status='pending'
		`, params.SubmissionID, params.ReviewerID, params.ReviewedAt)
		if err != nil {
			return fmt.Errorf("approve submission: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("approve submission rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotPending
		}

		created, err = s.insertTool(ctx, tx, params.Tool)
		if err != nil {
			return err
		}

		events := []OutboxEvent{{Kind: EventSearchIndex, Payload: ToolRef{ToolID: created.ID}}}
		if params.Followups != nil {
			events = append(events, params.Followups(created)...)
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return Tool{}, err
	}
	return created, nil
}

// RejectSubmission moves a pending submission to rejected. Like
// PromoteSubmission it only succeeds while the row is still pending.
func (s *PostgresStore) RejectSubmission(ctx context.Context, id int64, reviewerID, reason string, followups func(Submission) []OutboxEvent) (Submission, error) {
	var rejected Submission
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE submissions
			SET status='rejected', rejection_reason=$3, reviewed_by=NULLIF($2, ''), reviewed_at=NOW()
			WHERE id=$1 AND status='pending'
			RETURNING `+submissionColumns, id, reviewerID, reason)
		var err error
		rejected, err = scanSubmission(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotPending
		}
		if err != nil {
			return fmt.Errorf("reject submission: %w", err)
		}
		if followups == nil {
			return nil
		}
		return insertEvents(ctx, tx, followups(rejected))
	})
	if err != nil {
		return Submission{}, err
	}
	return rejected, nil
}

func (s *PostgresStore) DeleteSubmission(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete submission rows affected: %w", err)
	}
	return affected > 0, nil
}
