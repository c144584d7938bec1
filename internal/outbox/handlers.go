package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"agitracker/api/internal/store"
)

// Payloads of the email events.
type (
	SubmissionReceived struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}

	AdminNotification struct {
		SubmissionID int64  `json:"submissionId"`
		ToolName     string `json:"toolName"`
	}

	SubmissionApproved struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		ToolName string `json:"toolName"`
		Slug     string `json:"slug"`
	}

	SubmissionRejected struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		ToolName string `json:"toolName"`
		Reason   string `json:"reason"`
	}
)

// Notifier sends the transactional emails.
type Notifier interface {
	SendSubmissionReceived(to, submitterName string) error
	SendAdminNotification(submissionID int64, toolName string) error
	SendSubmissionApproved(to, submitterName, toolName, toolSlug string) error
	SendSubmissionRejected(to, submitterName, toolName, reason string) error
}

// Projector keeps the search index in step with the tools table.
type Projector interface {
	IndexTool(ctx context.Context, tool store.Tool) error
	DeleteTool(ctx context.Context, id int64) error
}

// ToolLoader reads the current state of a tool.
type ToolLoader interface {
	GetTool(ctx context.Context, id int64) (store.Tool, error)
}

func decode(event store.OutboxEvent, dest any) error {
	if err := json.Unmarshal(event.RawPayload, dest); err != nil {
		return fmt.Errorf("%w: decode %s payload: %w", ErrPermanent, event.Kind, err)
	}
	return nil
}

// RegisterSearch wires the search projection handlers. Index events always
// project the tool's current row, so a stale or reordered event cannot
// resurrect a deleted or unapproved tool.
func RegisterSearch(w *Worker, tools ToolLoader, projector Projector) {
	w.Handle(store.EventSearchIndex, func(ctx context.Context, event store.OutboxEvent) error {
		var ref store.ToolRef
		if err := decode(event, &ref); err != nil {
			return err
		}
		tool, err := tools.GetTool(ctx, ref.ToolID)
		if errors.Is(err, sql.ErrNoRows) {
			zerolog.Ctx(ctx).Debug().Int64("tool_id", ref.ToolID).Msg("outbox: tool gone, removing from index")
			return projector.DeleteTool(ctx, ref.ToolID)
		}
		if err != nil {
			return fmt.Errorf("load tool %d: %w", ref.ToolID, err)
		}
		return projector.IndexTool(ctx, tool)
	})

	w.Handle(store.EventSearchDelete, func(ctx context.Context, event store.OutboxEvent) error {
		var ref store.ToolRef
		if err := decode(event, &ref); err != nil {
			return err
		}
		return projector.DeleteTool(ctx, ref.ToolID)
	})
}

// RegisterEmail wires the notification handlers.
func RegisterEmail(w *Worker, notifier Notifier) {
	w.Handle(store.EventSubmissionReceived, func(_ context.Context, event store.OutboxEvent) error {
		var p SubmissionReceived
		if err := decode(event, &p); err != nil {
			return err
		}
		return notifier.SendSubmissionReceived(p.Email, p.Name)
	})

	w.Handle(store.EventAdminNotification, func(_ context.Context, event store.OutboxEvent) error {
		var p AdminNotification
		if err := decode(event, &p); err != nil {
			return err
		}
		return notifier.SendAdminNotification(p.SubmissionID, p.ToolName)
	})

	w.Handle(store.EventSubmissionApproved, func(_ context.Context, event store.OutboxEvent) error {
		var p SubmissionApproved
		if err := decode(event, &p); err != nil {
			return err
		}
		return notifier.SendSubmissionApproved(p.Email, p.Name, p.ToolName, p.Slug)
	})

	w.Handle(store.EventSubmissionRejected, func(_ context.Context, event store.OutboxEvent) error {
		var p SubmissionRejected
		if err := decode(event, &p); err != nil {
			return err
		}
		return notifier.SendSubmissionRejected(p.Email, p.Name, p.ToolName, p.Reason)
	})
}
