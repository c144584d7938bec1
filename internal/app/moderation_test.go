package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agitracker/api/internal/outbox"
	"agitracker/api/internal/store"
)

func seedSubmission(t *testing.T, fs *fakeStore, draft any) store.Submission {
	t.Helper()
	raw, err := json.Marshal(draft)
	require.NoError(t, err)
	sub, err := fs.CreateSubmission(context.Background(), store.Submission{
		ToolData:       raw,
		SubmitterEmail: "maker@example.com",
		SubmitterName:  "Maker",
	}, nil)
	require.NoError(t, err)
	return sub
}

func TestApprovePublishesToolOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sub := seedSubmission(t, fs, validDraft("Test Tool"))

	tool, err := svc.Approve(context.Background(), sub.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "test-tool", tool.Slug)
	assert.True(t, tool.Approved)
	require.NotNil(t, tool.ApprovedBy)
	assert.Equal(t, "admin", *tool.ApprovedBy)
	assert.Equal(t, testNow, *tool.ApprovedAt)

	stored, err := fs.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, stored.Status)
	assert.Equal(t, []string{store.EventSearchIndex, store.EventSubmissionApproved}, fs.eventKinds())

	_, err = svc.Approve(context.Background(), sub.ID, "admin")
	assertDomainError(t, err, http.StatusNotFound, "Submission not found")
	assert.Len(t, fs.tools, 1)
}

func TestApproveRejectedSubmissionCreatesNothing(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sub := seedSubmission(t, fs, validDraft("Test Tool"))
	require.NoError(t, svc.Reject(context.Background(), sub.ID, "admin", "duplicate"))

	_, err := svc.Approve(context.Background(), sub.ID, "admin")
	assertDomainError(t, err, http.StatusNotFound, "Submission not found")
	assert.Empty(t, fs.tools)
}

func TestApproveLosingConcurrentReviewReportsNotFound(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sub := seedSubmission(t, fs, validDraft("Test Tool"))
	fs.promoteFn = func(context.Context, store.PromoteParams) (store.Tool, error) {
		return store.Tool{}, store.ErrNotPending
	}

	_, err := svc.Approve(context.Background(), sub.ID, "admin")
	assertDomainError(t, err, http.StatusNotFound, "Submission not found")
}

func TestApproveDerivesSlugFromNameOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	input := validSubmission("Test Tool")
	input.ToolData.Slug = "Not A Slug!!/../x"
	sub, err := svc.Submit(context.Background(), input)
	require.NoError(t, err)

	tool, err := svc.Approve(context.Background(), sub.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "test-tool", tool.Slug)
}

func TestApproveSuffixesTakenSlug(t *testing.T) {
	fs := newFakeStore()
	fs.tools[100] = store.Tool{ID: 100, Slug: "test-tool", Name: "Test Tool", Approved: true}
	svc := newTestService(fs)
	sub := seedSubmission(t, fs, validDraft("Test Tool"))

	tool, err := svc.Approve(context.Background(), sub.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("test-tool-%d", testNow.UnixMilli()), tool.Slug)
}

func TestApproveRevalidatesDraft(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	draft := validDraft("Test Tool")
	draft.Description = "short"
	sub := seedSubmission(t, fs, draft)

	_, err := svc.Approve(context.Background(), sub.ID, "admin")
	assertDomainError(t, err, http.StatusBadRequest, "Validation failed")
	assert.Empty(t, fs.tools)

	stored, err := fs.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, stored.Status)
}

func TestApproveNeverCallsSearch(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	searcher := &fakeSearcher{}
	svc.search = searcher
	sub := seedSubmission(t, fs, validDraft("Test Tool"))

	_, err := svc.Approve(context.Background(), sub.ID, "admin")
	require.NoError(t, err)
	assert.Zero(t, searcher.calls)
	assert.Contains(t, fs.eventKinds(), store.EventSearchIndex)
}

func TestRejectDefaultsReason(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sub := seedSubmission(t, fs, validDraft("Test Tool"))

	require.NoError(t, svc.Reject(context.Background(), sub.ID, "admin", ""))

	stored, err := fs.GetSubmission(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, stored.Status)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "No reason provided", *stored.RejectionReason)

	require.Len(t, fs.events, 1)
	payload, ok := fs.events[0].Payload.(outbox.SubmissionRejected)
	require.True(t, ok)
	assert.Equal(t, "Test Tool", payload.ToolName)
	assert.Equal(t, "No reason provided", payload.Reason)

	err = svc.Reject(context.Background(), sub.ID, "admin", "again")
	assertDomainError(t, err, http.StatusNotFound, "Submission not found")
}

func TestApproveAllNothingPending(t *testing.T) {
	svc := newTestService(newFakeStore())

	result, err := svc.ApproveAll(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "No pending submissions to approve", result.Message)
	require.NotNil(t, result.Approved)
	assert.Zero(t, *result.Approved)
}

func TestApproveAllContinuesPastFailures(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	seedSubmission(t, fs, validDraft("Alpha"))
	broken := seedSubmission(t, fs, map[string]any{"name": "Broken", "description": "short"})
	seedSubmission(t, fs, validDraft("Gamma"))

	result, err := svc.ApproveAll(context.Background(), "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, *result.Approved)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "Approved 2 submission(s), 1 failed", result.Message)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], fmt.Sprintf("Submission %d (Broken): ", broken.ID)), result.Errors[0])

	stored, err := fs.GetSubmission(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, stored.Status)
}

func TestApproveAllDisambiguatesSameBatch(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	seedSubmission(t, fs, validDraft("Test Tool"))
	seedSubmission(t, fs, validDraft("Test Tool"))

	result, err := svc.ApproveAll(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, *result.Approved)
	assert.Zero(t, result.Failed)

	slugs := map[string]bool{}
	for _, tool := range fs.tools {
		slugs[tool.Slug] = true
	}
	assert.Len(t, slugs, 2)
	assert.True(t, slugs["test-tool"])
}

func TestBulkDeleteSubmissions(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	first := seedSubmission(t, fs, validDraft("Alpha"))
	second := seedSubmission(t, fs, validDraft("Beta"))

	result, err := svc.BulkDeleteSubmissions(context.Background(), []any{float64(first.ID), fmt.Sprint(second.ID), float64(999), "nope"})
	require.NoError(t, err)
	assert.Equal(t, 2, *result.Deleted)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"Submission 999: Not found"}, result.Errors)
	assert.Equal(t, "Deleted 2 submission(s), 1 failed", result.Message)
	assert.Empty(t, fs.submissions)
}

func TestBulkDeleteRejectsInvalidIDs(t *testing.T) {
	svc := newTestService(newFakeStore())

	for _, raw := range []any{nil, "1,2", []any{}, map[string]any{"id": 1}} {
		_, err := svc.BulkDeleteSubmissions(context.Background(), raw)
		assertDomainError(t, err, http.StatusBadRequest, "Invalid IDs provided")
	}

	_, err := svc.BulkDeleteTools(context.Background(), []any{"x", "", true, nil})
	assertDomainError(t, err, http.StatusBadRequest, "No valid tool IDs provided")
}

func TestBulkDeleteToolsRecordsStoreErrors(t *testing.T) {
	fs := newFakeStore()
	fs.deleteToolFn = func(_ context.Context, id int64) (bool, error) {
		if id == 2 {
			return false, errors.New("connection reset")
		}
		return true, nil
	}
	svc := newTestService(fs)

	result, err := svc.BulkDeleteTools(context.Background(), []any{float64(1), float64(2)})
	require.NoError(t, err)
	assert.Equal(t, 1, *result.Deleted)
	assert.Equal(t, []string{"Tool 2: connection reset"}, result.Errors)
}

func TestParseIDsKeepsLeadingInteger(t *testing.T) {
	ids, err := parseIDs([]any{float64(3), 1.5, "12abc", " 7", "-2", "abc", "", true})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 12, 7, -2}, ids)
}

func TestListSubmissionsRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.ListSubmissions(context.Background(), "archived", 1, 20)
	assertDomainError(t, err, http.StatusBadRequest, "status must be pending, approved or rejected")
}
