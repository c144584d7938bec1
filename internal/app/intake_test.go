package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agitracker/api/internal/captcha"
	"agitracker/api/internal/images"
	"agitracker/api/internal/store"
	"agitracker/api/internal/validate"
)

const testDescription = "A helpful assistant that automates repetitive research tasks end to end."

func validDraft(name string) store.ToolDraft {
	return store.ToolDraft{
		Name:        name,
		Tagline:     "Research on autopilot",
		Description: testDescription,
		Category:    "agents",
		Tags:        []string{"research", "automation"},
		Website:     "https://example.com",
		Pricing:     "freemium",
	}
}

func validSubmission(name string) SubmissionInput {
	return SubmissionInput{
		ToolData:       validDraft(name),
		SubmitterEmail: "maker@example.com",
		SubmitterName:  "Maker",
	}
}

type fakeCaptcha struct {
	err   error
	calls int
}

func (f *fakeCaptcha) Enabled() bool { return true }

func (f *fakeCaptcha) Verify(context.Context, string, string) error {
	f.calls++
	return f.err
}

func TestSubmitStagesPendingSubmissionWithNotifications(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	sub, err := svc.Submit(context.Background(), validSubmission("Test Tool"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, sub.Status)
	assert.Equal(t, "maker@example.com", sub.SubmitterEmail)

	draft, err := sub.Draft()
	require.NoError(t, err)
	assert.Equal(t, "Test Tool", draft.Name)
	assert.Empty(t, fs.tools, "intake must not create tools")
	assert.Equal(t, []string{store.EventSubmissionReceived, store.EventAdminNotification}, fs.eventKinds())
}

func TestSubmitHoneypotRejectsBeforePersistence(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	input := validSubmission("Test Tool")
	input.Honeypot = "http://spam.example"
	input.SubmitterEmail = "not-an-email"

	_, err := svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "Spam detected")
	assert.Zero(t, fs.createSubmitted)
	assert.Empty(t, fs.events)
}

func TestSubmitWhitespaceHoneypotIsSpam(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	input := validSubmission("Test Tool")
	input.Honeypot = " "

	_, err := svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "Spam detected")
	assert.Zero(t, fs.createSubmitted)
}

func TestSubmitReportsFieldErrors(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	input := validSubmission("Test Tool")
	input.ToolData.Description = "too short"
	input.ToolData.Tags = nil
	input.SubmitterEmail = "nope"

	_, err := svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "Validation failed")

	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	fields := map[string]string{}
	for _, fe := range domainErr.Details.(validate.Errors) {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "must be at least 50 characters", fields["toolData.description"])
	assert.Contains(t, fields, "toolData.tags")
	assert.Equal(t, "must be a valid email address", fields["submitterEmail"])
	assert.Zero(t, fs.createSubmitted)
}

func TestSubmitRejectsNameWithoutSlug(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Submit(context.Background(), validSubmission("!!!"))
	assertDomainError(t, err, http.StatusBadRequest, "Validation failed")
}

func TestSubmitRejectsExistingToolName(t *testing.T) {
	fs := newFakeStore()
	fs.tools[1] = store.Tool{ID: 1, Slug: "test-tool", Name: "Test Tool", Approved: true}
	svc := newTestService(fs)

	_, err := svc.Submit(context.Background(), validSubmission("Test Tool"))
	assert.Same(t, errToolExists, err)
	assert.Zero(t, fs.createSubmitted)
}

func TestSubmitCaptchaFailure(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	verifier := &fakeCaptcha{err: captcha.ErrFailed}
	svc.captcha = verifier
	input := validSubmission("Test Tool")
	input.RecaptchaToken = "token"

	_, err := svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "CAPTCHA verification failed")
	assert.Equal(t, 1, verifier.calls)
	assert.Zero(t, fs.createSubmitted)
}

func TestSubmitSkipsCaptchaWithoutToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	verifier := &fakeCaptcha{err: captcha.ErrFailed}
	svc.captcha = verifier

	_, err := svc.Submit(context.Background(), validSubmission("Test Tool"))
	require.NoError(t, err)
	assert.Zero(t, verifier.calls)
}

func TestSubmitRejectsUnknownImages(t *testing.T) {
	fs := newFakeStore()
	fs.images["11111111-1111-1111-1111-111111111111"] = store.Image{ID: "11111111-1111-1111-1111-111111111111"}
	svc := newTestService(fs)

	input := validSubmission("Test Tool")
	input.IconImageID = "22222222-2222-2222-2222-222222222222"
	_, err := svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "Invalid icon image ID")

	input = validSubmission("Test Tool")
	input.ScreenshotImageIDs = []string{"11111111-1111-1111-1111-111111111111", "33333333-3333-3333-3333-333333333333"}
	_, err = svc.Submit(context.Background(), input)
	assertDomainError(t, err, http.StatusBadRequest, "Invalid screenshot image ID(s)")
	assert.Zero(t, fs.createSubmitted)
}

func TestSubmitAttachesUploadedImages(t *testing.T) {
	const (
		iconID = "11111111-1111-1111-1111-111111111111"
		shotID = "22222222-2222-2222-2222-222222222222"
	)
	fs := newFakeStore()
	fs.images[iconID] = store.Image{ID: iconID}
	fs.images[shotID] = store.Image{ID: shotID}
	svc := newTestService(fs)

	input := validSubmission("Test Tool")
	input.ToolData.Screenshots = []store.Screenshot{{URL: "https://example.com/shot.png", Alt: "dashboard"}}
	input.IconImageID = iconID
	input.ScreenshotImageIDs = []string{shotID, shotID}

	sub, err := svc.Submit(context.Background(), input)
	require.NoError(t, err)
	draft, err := sub.Draft()
	require.NoError(t, err)

	assert.Equal(t, images.URL(iconID), draft.Icon)
	require.Len(t, draft.Screenshots, 3)
	assert.Equal(t, images.URL(shotID), draft.Screenshots[0].URL)
	assert.Equal(t, shotID, draft.Screenshots[0].ImageID)
	assert.Equal(t, "https://example.com/shot.png", draft.Screenshots[2].URL)
}

func TestAttachImagesKeepsExplicitIcon(t *testing.T) {
	draft := validDraft("Test Tool")
	draft.Icon = "https://example.com/icon.png"
	attachImages(&draft, "11111111-1111-1111-1111-111111111111", nil)

	assert.Equal(t, "https://example.com/icon.png", draft.Icon)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", draft.IconImageID)
	assert.Empty(t, draft.Screenshots)
}
