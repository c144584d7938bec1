package store

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Screenshot struct {
	URL     string `json:"url" validate:"required,imageref"`
	Alt     string `json:"alt"`
	ImageID string `json:"imageId,omitempty"`
}

type Tool struct {
	ID           int64        `json:"id"`
	Slug         string       `json:"slug"`
	Name         string       `json:"name"`
	Tagline      string       `json:"tagline"`
	Description  string       `json:"description"`
	Category     string       `json:"category"`
	Tags         []string     `json:"tags"`
	Website      string       `json:"website"`
	Github       string       `json:"github"`
	Pricing      string       `json:"pricing"`
	License      string       `json:"license"`
	Integrations []string     `json:"integrations"`
	Icon         string       `json:"icon"`
	Screenshots  []Screenshot `json:"screenshots"`
	Approved     bool         `json:"approved"`
	Featured     bool         `json:"featured"`
	Views        int          `json:"views"`
	ApprovedBy   *string      `json:"approvedBy"`
	ApprovedAt   *time.Time   `json:"approvedAt"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ToolDraft is the staged shape of a tool held by a pending submission. It is
// validated with the same rules on intake and again when promoted to a Tool.
type ToolDraft struct {
	Name               string       `json:"name" validate:"required,max=200"`
	Slug               string       `json:"slug,omitempty" validate:"max=200"`
	Tagline            string       `json:"tagline,omitempty" validate:"max=300"`
	Description        string       `json:"description" validate:"required,min=50"`
	Category           string       `json:"category" validate:"required"`
	Tags               []string     `json:"tags" validate:"min=1,max=10,dive,required"`
	Website            string       `json:"website,omitempty" validate:"omitempty,url"`
	Github             string       `json:"github,omitempty" validate:"omitempty,url"`
	Pricing            string       `json:"pricing,omitempty"`
	License            string       `json:"license,omitempty"`
	Integrations       []string     `json:"integrations,omitempty"`
	Icon               string       `json:"icon,omitempty" validate:"omitempty,imageref"`
	IconImageID        string       `json:"iconImageId,omitempty"`
	Screenshots        []Screenshot `json:"screenshots,omitempty" validate:"dive"`
	ScreenshotImageIDs []string     `json:"screenshotImageIds,omitempty"`
}

type Submission struct {
	ID              int64           `json:"id"`
	ToolData        json.RawMessage `json:"toolData"`
	SubmitterEmail  string          `json:"submitterEmail"`
	SubmitterName   string          `json:"submitterName"`
	Status          string          `json:"status"`
	RejectionReason *string         `json:"rejectionReason"`
	ReviewedBy      *string         `json:"reviewedBy"`
	ReviewedAt      *time.Time      `json:"reviewedAt"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Draft decodes the staged tool payload.
func (s Submission) Draft() (ToolDraft, error) {
	var draft ToolDraft
	if len(s.ToolData) == 0 {
		return draft, fmt.Errorf("submission %d has no tool data", s.ID)
	}
	if err := json.Unmarshal(s.ToolData, &draft); err != nil {
		return draft, fmt.Errorf("decode tool data: %w", err)
	}
	return draft, nil
}

// DraftName returns the staged tool name without requiring the payload to be well formed.
func (s Submission) DraftName() string {
	var partial struct {
		Name any `json:"name"`
	}
	if err := json.Unmarshal(s.ToolData, &partial); err != nil {
		return ""
	}
	name, _ := partial.Name.(string)
	return name
}

type Article struct {
	ID          int64      `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	Body        string     `json:"body"`
	HeroImage   string     `json:"heroImage"`
	Tags        []string   `json:"tags"`
	Published   bool       `json:"published"`
	Featured    bool       `json:"featured"`
	Views       int        `json:"views"`
	AuthorID    string     `json:"authorId"`
	AuthorName  string     `json:"authorName"`
	AuthorEmail string     `json:"-"`
	PublishedAt *time.Time `json:"publishedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Image struct {
	ID          string
	Filename    string
	ContentType string
	Size        int
	Data        []byte
	ObjectKey   string
	CreatedAt   time.Time
}

// OutboxEvent is a side effect recorded in the same transaction as the write
// that caused it. Payload is JSON encoded on insert.
type OutboxEvent struct {
	ID          int64
	Kind        string
	Payload     any
	RawPayload  json.RawMessage
	Attempts    int
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
}

type ToolFilter struct {
	Page              int
	Limit             int
	Category          string
	Tag               string
	Pricing           string
	License           string
	Sort              string
	Query             string
	IncludeUnapproved bool
}

type ArticleFilter struct {
	Page               int
	Limit              int
	Tag                string
	Query              string
	IncludeUnpublished bool
}

type SubmissionFilter struct {
	Status string
	Page   int
	Limit  int
}

// SitemapEntry is a published slug with its last modification time.
type SitemapEntry struct {
	Slug      string
	UpdatedAt time.Time
}

// Outbox event kinds.
const (
	EventSearchIndex        = "search.index"
	EventSearchDelete       = "search.delete"
	EventSubmissionReceived = "email.submission_received"
	EventAdminNotification  = "email.admin_notification"
	EventSubmissionApproved = "email.submission_approved"
	EventSubmissionRejected = "email.submission_rejected"
)

// ToolRef is the payload of search projection events.
type ToolRef struct {
	ToolID int64 `json:"toolId"`
}
