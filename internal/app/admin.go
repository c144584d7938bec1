package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agitracker/api/internal/rbac"
	"agitracker/api/internal/search"
	"agitracker/api/internal/slug"
	"agitracker/api/internal/store"
	"agitracker/api/internal/validate"
)

// ToolInput is the admin form of a tool. Approved defaults to true and
// Featured to false on create; on update omitted flags keep their value.
type ToolInput struct {
	store.ToolDraft
	Approved *bool `json:"approved"`
	Featured *bool `json:"featured"`
}

type ArticleInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Excerpt     string     `json:"excerpt" validate:"max=500"`
	Body        string     `json:"body" validate:"required,min=100"`
	Tags        []string   `json:"tags" validate:"dive,required"`
	Published   *bool      `json:"published"`
	Featured    *bool      `json:"featured"`
	HeroImage   string     `json:"heroImage" validate:"omitempty,imageref"`
	PublishedAt *time.Time `json:"publishedAt"`
}

func (s *Service) AdminListTools(ctx context.Context, query string, page, limit int) (map[string]any, error) {
	return s.ListTools(ctx, store.ToolFilter{Page: page, Limit: limit, Query: query, IncludeUnapproved: true})
}

func (s *Service) AdminGetTool(ctx context.Context, id int64) (store.Tool, error) {
	tool, err := s.store.GetTool(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tool{}, errToolNotFound
	}
	return tool, err
}

func (s *Service) CreateTool(ctx context.Context, input ToolInput, adminID string) (store.Tool, error) {
	if err := validate.Struct(input.ToolDraft); err != nil {
		return store.Tool{}, asValidationError(err)
	}
	toolSlug := slug.Slugify(input.Name)
	if toolSlug == "" {
		return store.Tool{}, validationFailed(validate.Errors{{Field: "name", Message: "must contain letters or digits"}})
	}
	exists, err := s.store.ToolSlugExists(ctx, toolSlug, 0)
	if err != nil {
		return store.Tool{}, err
	}
	if exists {
		return store.Tool{}, errToolExists
	}

	now := s.now()
	tool := toolFromDraft(input.ToolDraft)
	tool.Slug = toolSlug
	tool.Approved = boolOr(input.Approved, true)
	tool.Featured = boolOr(input.Featured, false)
	tool.ApprovedBy = optionalString(adminID)
	tool.ApprovedAt = &now

	created, err := s.store.InsertTool(ctx, tool)
	if errors.Is(err, store.ErrSlugTaken) {
		return store.Tool{}, errToolExists
	}
	if err != nil {
		return store.Tool{}, err
	}
	zerolog.Ctx(ctx).Info().Int64("tool_id", created.ID).Str("slug", created.Slug).Msg("admin: tool created")
	return created, nil
}

// UpdateTool replaces the editable fields. A renamed tool is re-slugged.
func (s *Service) UpdateTool(ctx context.Context, id int64, input ToolInput) (store.Tool, error) {
	if err := validate.Struct(input.ToolDraft); err != nil {
		return store.Tool{}, asValidationError(err)
	}
	existing, err := s.AdminGetTool(ctx, id)
	if err != nil {
		return store.Tool{}, err
	}

	toolSlug := existing.Slug
	if input.Name != existing.Name {
		toolSlug = slug.Slugify(input.Name)
		if toolSlug == "" {
			return store.Tool{}, validationFailed(validate.Errors{{Field: "name", Message: "must contain letters or digits"}})
		}
		taken, err := s.store.ToolSlugExists(ctx, toolSlug, id)
		if err != nil {
			return store.Tool{}, err
		}
		if taken {
			return store.Tool{}, errToolExists
		}
	}

	tool := toolFromDraft(input.ToolDraft)
	tool.ID = id
	tool.Slug = toolSlug
	if tool.Icon == "" {
		tool.Icon = existing.Icon
	}
	tool.Approved = boolOr(input.Approved, existing.Approved)
	tool.Featured = boolOr(input.Featured, existing.Featured)
	tool.ApprovedBy = existing.ApprovedBy
	tool.ApprovedAt = existing.ApprovedAt

	updated, err := s.store.UpdateTool(ctx, tool)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.Tool{}, errToolNotFound
	case errors.Is(err, store.ErrSlugTaken):
		return store.Tool{}, errToolExists
	case err != nil:
		return store.Tool{}, err
	}
	return updated, nil
}

func (s *Service) DeleteTool(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteTool(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errToolNotFound
	}
	zerolog.Ctx(ctx).Info().Int64("tool_id", id).Msg("admin: tool deleted")
	return nil
}

func (s *Service) ToggleToolFeatured(ctx context.Context, id int64) (store.Tool, error) {
	tool, err := s.store.ToggleToolFeatured(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tool{}, errToolNotFound
	}
	return tool, err
}

func (s *Service) AdminListArticles(ctx context.Context, query string, page, limit int) (map[string]any, error) {
	return s.ListArticles(ctx, store.ArticleFilter{Page: page, Limit: limit, Query: query, IncludeUnpublished: true})
}

func (s *Service) AdminGetArticle(ctx context.Context, id int64) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Article{}, errArticleNotFound
	}
	return article, err
}

func (s *Service) CreateArticle(ctx context.Context, input ArticleInput, authorID string) (store.Article, error) {
	if err := validate.Struct(input); err != nil {
		return store.Article{}, asValidationError(err)
	}
	articleSlug, err := s.articleSlug(ctx, input.Title, 0)
	if err != nil {
		return store.Article{}, err
	}

	article := articleFromInput(input)
	article.Slug = articleSlug
	article.AuthorID = authorID
	if article.Published {
		article.PublishedAt = s.publishTime(input.PublishedAt)
	}

	created, err := s.store.InsertArticle(ctx, article)
	if errors.Is(err, store.ErrSlugTaken) {
		return store.Article{}, errArticleExists
	}
	if err != nil {
		return store.Article{}, err
	}
	zerolog.Ctx(ctx).Info().Int64("article_id", created.ID).Str("slug", created.Slug).Msg("admin: article created")
	return created, nil
}

// UpdateArticle replaces the editable fields. The publish time is stamped on
// the first publish and kept from then on, even if the article is unpublished.
func (s *Service) UpdateArticle(ctx context.Context, id int64, input ArticleInput) (store.Article, error) {
	if err := validate.Struct(input); err != nil {
		return store.Article{}, asValidationError(err)
	}
	existing, err := s.AdminGetArticle(ctx, id)
	if err != nil {
		return store.Article{}, err
	}

	articleSlug := existing.Slug
	if input.Title != existing.Title {
		articleSlug, err = s.articleSlug(ctx, input.Title, id)
		if err != nil {
			return store.Article{}, err
		}
	}

	article := articleFromInput(input)
	article.ID = id
	article.Slug = articleSlug
	article.Published = boolOr(input.Published, existing.Published)
	article.Featured = boolOr(input.Featured, existing.Featured)
	switch {
	case existing.PublishedAt != nil:
		article.PublishedAt = existing.PublishedAt
	case input.PublishedAt != nil:
		article.PublishedAt = input.PublishedAt
	case article.Published:
		article.PublishedAt = s.publishTime(nil)
	}

	updated, err := s.store.UpdateArticle(ctx, article)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.Article{}, errArticleNotFound
	case errors.Is(err, store.ErrSlugTaken):
		return store.Article{}, errArticleExists
	case err != nil:
		return store.Article{}, err
	}
	return updated, nil
}

func (s *Service) DeleteArticle(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteArticle(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errArticleNotFound
	}
	return nil
}

func (s *Service) articleSlug(ctx context.Context, title string, excludeID int64) (string, error) {
	articleSlug := slug.Slugify(title)
	if articleSlug == "" {
		return "", validationFailed(validate.Errors{{Field: "title", Message: "must contain letters or digits"}})
	}
	taken, err := s.store.ArticleSlugExists(ctx, articleSlug, excludeID)
	if err != nil {
		return "", err
	}
	if taken {
		return "", errArticleExists
	}
	return articleSlug, nil
}

func (s *Service) publishTime(requested *time.Time) *time.Time {
	if requested != nil {
		return requested
	}
	now := s.now()
	return &now
}

func articleFromInput(input ArticleInput) store.Article {
	return store.Article{
		Title:     input.Title,
		Excerpt:   input.Excerpt,
		Body:      input.Body,
		HeroImage: input.HeroImage,
		Tags:      input.Tags,
		Published: boolOr(input.Published, false),
		Featured:  boolOr(input.Featured, false),
	}
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

type Stats struct {
	PendingSubmissions int               `json:"pendingSubmissions"`
	Tools              int               `json:"tools"`
	FeaturedTools      int               `json:"featuredTools"`
	PublishedArticles  int               `json:"publishedArticles"`
	Users              int               `json:"users"`
	TotalViews         int64             `json:"totalViews"`
	Outbox             store.OutboxStats `json:"outbox"`
	SearchEnabled      bool              `json:"searchEnabled"`
}

// Stats gathers the dashboard counters concurrently.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := fanOut(ctx,
		func(ctx context.Context) (err error) {
			stats.PendingSubmissions, err = s.store.CountSubmissions(ctx, store.StatusPending)
			return err
		},
		func(ctx context.Context) (err error) {
			stats.Tools, err = s.store.CountTools(ctx, store.ToolFilter{})
			return err
		},
		func(ctx context.Context) (err error) {
			stats.FeaturedTools, err = s.store.CountFeaturedTools(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			stats.PublishedArticles, err = s.store.CountArticles(ctx, store.ArticleFilter{})
			return err
		},
		func(ctx context.Context) (err error) {
			stats.Users, err = s.store.CountUsers(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			stats.TotalViews, err = s.store.TotalToolViews(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			stats.Outbox, err = s.store.OutboxStats(ctx)
			return err
		},
	)
	if err != nil {
		return Stats{}, err
	}
	stats.SearchEnabled = s.search != nil && s.search.Enabled()
	return stats, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}

// UpdateUserRole changes another user's role. Nobody can change their own.
func (s *Service) UpdateUserRole(ctx context.Context, actorID, userID, role string) (store.User, error) {
	role = strings.TrimSpace(role)
	if !rbac.Valid(role) {
		return store.User{}, badRequest("INVALID_ROLE", "role must be user, editor or admin")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return store.User{}, errUserNotFound
	}
	if actorID == userID {
		return store.User{}, badRequest("SELF_ROLE_CHANGE", "You cannot change your own role")
	}
	user, err := s.store.UpdateUserRole(ctx, userID, role)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, errUserNotFound
	}
	if err != nil {
		return store.User{}, err
	}
	zerolog.Ctx(ctx).Info().Str("user_id", userID).Str("role", role).Str("actor_id", actorID).Msg("admin: role changed")
	return user, nil
}

// ResyncSearch rebuilds the search index from the tools table.
func (s *Service) ResyncSearch(ctx context.Context) (search.ReindexReport, error) {
	if s.search == nil || !s.search.Enabled() {
		return search.ReindexReport{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index not configured", nil)
	}
	report, err := s.search.ReindexAllFromPG(ctx)
	if errors.Is(err, search.ErrUnavailable) {
		return search.ReindexReport{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index unavailable", nil)
	}
	return report, err
}
