package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"agitracker/api/internal/captcha"
	"agitracker/api/internal/images"
	"agitracker/api/internal/outbox"
	"agitracker/api/internal/slug"
	"agitracker/api/internal/store"
	"agitracker/api/internal/validate"
)

// SubmissionInput is the body of a public tool submission. Image ids refer to
// uploads made beforehand through the public upload endpoint.
type SubmissionInput struct {
	ToolData           store.ToolDraft `json:"toolData"`
	SubmitterEmail     string          `json:"submitterEmail" validate:"required,email"`
	SubmitterName      string          `json:"submitterName" validate:"max=200"`
	Honeypot           string          `json:"honeypot"`
	RecaptchaToken     string          `json:"recaptchaToken"`
	IconImageID        string          `json:"iconImageId"`
	ScreenshotImageIDs []string        `json:"screenshotImageIds"`
	RemoteIP           string          `json:"-"`
}

// Submit stages a tool for moderation. Checks run in a fixed order and the
// first failure wins; nothing is written unless every check passes.
func (s *Service) Submit(ctx context.Context, input SubmissionInput) (store.Submission, error) {
	logger := zerolog.Ctx(ctx)

	if input.Honeypot != "" {
		logger.Warn().Str("remote_ip", input.RemoteIP).Msg("intake: honeypot tripped")
		return store.Submission{}, badRequest("SPAM_DETECTED", "Spam detected")
	}

	if err := validate.Struct(input); err != nil {
		return store.Submission{}, asValidationError(err)
	}

	if input.RecaptchaToken != "" && s.captcha != nil && s.captcha.Enabled() {
		if err := s.captcha.Verify(ctx, input.RecaptchaToken, input.RemoteIP); err != nil {
			if !errors.Is(err, captcha.ErrFailed) {
				logger.Error().Err(err).Msg("intake: captcha provider unreachable")
			}
			return store.Submission{}, badRequest("CAPTCHA_FAILED", "CAPTCHA verification failed")
		}
	}

	draft := input.ToolData
	toolSlug := draft.Slug
	if toolSlug == "" {
		toolSlug = slug.Slugify(draft.Name)
	}
	if toolSlug == "" {
		return store.Submission{}, validationFailed(validate.Errors{{Field: "toolData.name", Message: "must contain letters or digits"}})
	}
	exists, err := s.store.ToolSlugExists(ctx, toolSlug, 0)
	if err != nil {
		return store.Submission{}, err
	}
	if exists {
		return store.Submission{}, errToolExists
	}

	if input.IconImageID != "" {
		ok, err := s.imagesExist(ctx, []string{input.IconImageID})
		if err != nil {
			return store.Submission{}, err
		}
		if !ok {
			return store.Submission{}, badRequest("INVALID_IMAGE", "Invalid icon image ID")
		}
	}
	if len(input.ScreenshotImageIDs) > 0 {
		ok, err := s.imagesExist(ctx, input.ScreenshotImageIDs)
		if err != nil {
			return store.Submission{}, err
		}
		if !ok {
			return store.Submission{}, badRequest("INVALID_IMAGE", "Invalid screenshot image ID(s)")
		}
	}

	attachImages(&draft, input.IconImageID, input.ScreenshotImageIDs)
	toolData, err := json.Marshal(draft)
	if err != nil {
		return store.Submission{}, fmt.Errorf("encode tool data: %w", err)
	}

	created, err := s.store.CreateSubmission(ctx, store.Submission{
		ToolData:       toolData,
		SubmitterEmail: input.SubmitterEmail,
		SubmitterName:  strings.TrimSpace(input.SubmitterName),
	}, func(sub store.Submission) []store.OutboxEvent {
		return []store.OutboxEvent{
			{Kind: store.EventSubmissionReceived, Payload: outbox.SubmissionReceived{Email: sub.SubmitterEmail, Name: sub.SubmitterName}},
			{Kind: store.EventAdminNotification, Payload: outbox.AdminNotification{SubmissionID: sub.ID, ToolName: draft.Name}},
		}
	})
	if err != nil {
		return store.Submission{}, err
	}
	logger.Info().Int64("submission_id", created.ID).Str("slug", toolSlug).Msg("intake: submission received")
	return created, nil
}

// imagesExist reports whether every id names a stored image.
func (s *Service) imagesExist(ctx context.Context, ids []string) (bool, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return false, nil
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	count, err := s.store.CountImages(ctx, unique)
	if err != nil {
		return false, err
	}
	return count == len(unique), nil
}

// attachImages puts uploaded screenshots ahead of linked ones and falls back
// to the uploaded icon when no icon URL was given.
func attachImages(draft *store.ToolDraft, iconImageID string, screenshotImageIDs []string) {
	if iconImageID != "" {
		draft.IconImageID = iconImageID
		if draft.Icon == "" {
			draft.Icon = images.URL(iconImageID)
		}
	}
	if len(screenshotImageIDs) == 0 {
		return
	}
	screenshots := make([]store.Screenshot, 0, len(screenshotImageIDs)+len(draft.Screenshots))
	for _, id := range screenshotImageIDs {
		screenshots = append(screenshots, store.Screenshot{URL: images.URL(id), Alt: "", ImageID: id})
	}
	draft.Screenshots = append(screenshots, draft.Screenshots...)
	draft.ScreenshotImageIDs = screenshotImageIDs
}

func asValidationError(err error) error {
	var fieldErrs validate.Errors
	if errors.As(err, &fieldErrs) {
		return validationFailed(fieldErrs)
	}
	return err
}
