package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agitracker/api/internal/metrics"
	"agitracker/api/internal/outbox"
	"agitracker/api/internal/slug"
	"agitracker/api/internal/store"
	"agitracker/api/internal/validate"
)

const defaultRejectionReason = "No reason provided"

// BatchResult is the outcome of a continue-on-error bulk action.
type BatchResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Approved *int     `json:"approved,omitempty"`
	Deleted  *int     `json:"deleted,omitempty"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

func (s *Service) ListSubmissions(ctx context.Context, status string, page, limit int) (map[string]any, error) {
	switch status {
	case "", store.StatusPending, store.StatusApproved, store.StatusRejected:
	default:
		return nil, badRequest("INVALID_STATUS", "status must be pending, approved or rejected")
	}
	page, limit = clampPage(page, limit)
	filter := store.SubmissionFilter{Status: status, Page: page, Limit: limit}

	var (
		items []store.Submission
		total int
	)
	err := fanOut(ctx,
		func(ctx context.Context) (err error) {
			items, err = s.store.ListSubmissions(ctx, filter)
			return err
		},
		func(ctx context.Context) (err error) {
			total, err = s.store.CountSubmissions(ctx, status)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Submission{}
	}
	return map[string]any{
		"submissions": items,
		"pagination":  newPagination(page, limit, total),
	}, nil
}

func (s *Service) GetSubmission(ctx context.Context, id int64) (store.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Submission{}, errSubmissionNotFound
	}
	return sub, err
}

// Approve promotes a pending submission to a published tool.
func (s *Service) Approve(ctx context.Context, id int64, reviewerID string) (store.Tool, error) {
	tool, err := s.approve(ctx, id, reviewerID, false)
	metrics.ModerationAction("approve", err)
	return tool, err
}

func (s *Service) approve(ctx context.Context, id int64, reviewerID string, bulk bool) (store.Tool, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tool{}, errSubmissionNotFound
	}
	if err != nil {
		return store.Tool{}, err
	}
	if sub.Status != store.StatusPending {
		return store.Tool{}, errSubmissionNotFound
	}
	return s.promote(ctx, sub, reviewerID, bulk)
}

func (s *Service) promote(ctx context.Context, sub store.Submission, reviewerID string, bulk bool) (store.Tool, error) {
	draft, err := sub.Draft()
	if err != nil {
		return store.Tool{}, validationFailed(validate.Errors{{Field: "toolData", Message: err.Error()}})
	}
	if err := validate.Struct(draft); err != nil {
		return store.Tool{}, asValidationError(err)
	}

	now := s.now()
	toolSlug, err := s.availableToolSlug(ctx, draft, sub.ID, now, bulk)
	if err != nil {
		return store.Tool{}, err
	}

	tool := toolFromDraft(draft)
	tool.Slug = toolSlug
	tool.Approved = true
	tool.ApprovedBy = optionalString(reviewerID)
	tool.ApprovedAt = &now

	created, err := s.store.PromoteSubmission(ctx, store.PromoteParams{
		SubmissionID: sub.ID,
		ReviewerID:   reviewerID,
		ReviewedAt:   now,
		Tool:         tool,
		Followups: func(t store.Tool) []store.OutboxEvent {
			return []store.OutboxEvent{{
				Kind: store.EventSubmissionApproved,
				Payload: outbox.SubmissionApproved{
					Email:    sub.SubmitterEmail,
					Name:     sub.SubmitterName,
					ToolName: t.Name,
					Slug:     t.Slug,
				},
			}}
		},
	})
	switch {
	case errors.Is(err, store.ErrNotPending):
		return store.Tool{}, errSubmissionNotFound
	case errors.Is(err, store.ErrSlugTaken):
		return store.Tool{}, errToolExists
	case err != nil:
		return store.Tool{}, err
	}
	zerolog.Ctx(ctx).Info().Int64("submission_id", sub.ID).Int64("tool_id", created.ID).Str("slug", created.Slug).Msg("moderation: submission approved")
	return created, nil
}

// availableToolSlug slugifies the draft's name, suffixing the approval time
// when a tool already holds it. A client-supplied draft slug is ignored. Bulk approvals add the submission id as well so two
// drafts with the same name approved within one millisecond still differ.
func (s *Service) availableToolSlug(ctx context.Context, draft store.ToolDraft, submissionID int64, now time.Time, bulk bool) (string, error) {
	base := slug.Slugify(draft.Name)
	if base == "" {
		return "", validationFailed(validate.Errors{{Field: "name", Message: "must contain letters or digits"}})
	}
	exists, err := s.store.ToolSlugExists(ctx, base, 0)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	if bulk {
		return fmt.Sprintf("%s-%d-%d", base, now.UnixMilli(), submissionID), nil
	}
	return fmt.Sprintf("%s-%d", base, now.UnixMilli()), nil
}

// Reject closes a pending submission without creating a tool.
func (s *Service) Reject(ctx context.Context, id int64, reviewerID, reason string) error {
	err := s.reject(ctx, id, reviewerID, reason)
	metrics.ModerationAction("reject", err)
	return err
}

func (s *Service) reject(ctx context.Context, id int64, reviewerID, reason string) error {
	if reason == "" {
		reason = defaultRejectionReason
	}
	rejected, err := s.store.RejectSubmission(ctx, id, reviewerID, reason, func(sub store.Submission) []store.OutboxEvent {
		return []store.OutboxEvent{{
			Kind: store.EventSubmissionRejected,
			Payload: outbox.SubmissionRejected{
				Email:    sub.SubmitterEmail,
				Name:     sub.SubmitterName,
				ToolName: sub.DraftName(),
				Reason:   reason,
			},
		}}
	})
	if errors.Is(err, store.ErrNotPending) {
		return errSubmissionNotFound
	}
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("submission_id", rejected.ID).Msg("moderation: submission rejected")
	return nil
}

// ApproveAll approves every pending submission independently. A failing item
// is recorded and the batch carries on.
func (s *Service) ApproveAll(ctx context.Context, reviewerID string) (BatchResult, error) {
	pending, err := s.store.ListPendingSubmissions(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	approved := 0
	result := BatchResult{Success: true, Approved: &approved, Errors: []string{}}
	if len(pending) == 0 {
		result.Message = "No pending submissions to approve"
		return result, nil
	}

	for _, sub := range pending {
		_, err := s.promote(ctx, sub, reviewerID, true)
		metrics.ModerationAction("approve", err)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("submission_id", sub.ID).Msg("moderation: bulk approve item failed")
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Submission %d (%s): %s", sub.ID, sub.DraftName(), errorMessage(err)))
			continue
		}
		approved++
	}
	result.Message = batchMessage("Approved", approved, "submission", result.Failed)
	return result, nil
}

// BulkDeleteSubmissions removes submissions in any state.
func (s *Service) BulkDeleteSubmissions(ctx context.Context, rawIDs any) (BatchResult, error) {
	return s.bulkDelete(ctx, rawIDs, "Submission", "submission", s.store.DeleteSubmission)
}

// BulkDeleteTools removes tools and schedules their removal from search.
func (s *Service) BulkDeleteTools(ctx context.Context, rawIDs any) (BatchResult, error) {
	return s.bulkDelete(ctx, rawIDs, "Tool", "tool", s.store.DeleteTool)
}

func (s *Service) bulkDelete(ctx context.Context, rawIDs any, label, noun string, del func(context.Context, int64) (bool, error)) (BatchResult, error) {
	ids, err := parseIDs(rawIDs)
	if err != nil {
		return BatchResult{}, err
	}
	if len(ids) == 0 {
		return BatchResult{}, badRequest("INVALID_IDS", fmt.Sprintf("No valid %s IDs provided", noun))
	}

	deleted := 0
	result := BatchResult{Success: true, Deleted: &deleted, Errors: []string{}}
	for _, id := range ids {
		ok, err := del(ctx, id)
		switch {
		case err != nil:
			zerolog.Ctx(ctx).Warn().Err(err).Int64("id", id).Msgf("moderation: bulk delete %s failed", noun)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s %d: %s", label, id, errorMessage(err)))
		case !ok:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s %d: Not found", label, id))
		default:
			deleted++
		}
	}
	result.Message = batchMessage("Deleted", deleted, noun, result.Failed)
	return result, nil
}

// parseIDs accepts a JSON array of numbers or numeric strings. Numbers are
// truncated toward zero and strings keep their leading integer, so 1.5 and
// "12abc" read as 1 and 12. Entries with no leading integer are dropped.
func parseIDs(raw any) ([]int64, error) {
	values, ok := raw.([]any)
	if !ok || len(values) == 0 {
		return nil, errInvalidIDs
	}
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		switch v := value.(type) {
		case float64:
			if !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) < math.MaxInt64 {
				ids = append(ids, int64(v))
			}
		case string:
			if id, ok := leadingInt(v); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

var leadingIntPattern = regexp.MustCompile(`^[+-]?[0-9]+`)

func leadingInt(s string) (int64, bool) {
	digits := leadingIntPattern.FindString(strings.TrimSpace(s))
	if digits == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	return id, err == nil
}

func batchMessage(verb string, done int, noun string, failed int) string {
	message := fmt.Sprintf("%s %d %s(s)", verb, done, noun)
	if failed > 0 {
		message += fmt.Sprintf(", %d failed", failed)
	}
	return message
}

// errorMessage is the caller facing text of a per-item failure.
func errorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if fieldErrs, ok := domainErr.Details.(validate.Errors); ok && len(fieldErrs) > 0 {
			return fieldErrs.Error()
		}
		return domainErr.Message
	}
	return err.Error()
}

func toolFromDraft(draft store.ToolDraft) store.Tool {
	return store.Tool{
		Name:         draft.Name,
		Tagline:      draft.Tagline,
		Description:  draft.Description,
		Category:     draft.Category,
		Tags:         draft.Tags,
		Website:      draft.Website,
		Github:       draft.Github,
		Pricing:      draft.Pricing,
		License:      draft.License,
		Integrations: draft.Integrations,
		Icon:         draft.Icon,
		Screenshots:  draft.Screenshots,
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
