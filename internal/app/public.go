package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"golang.org/x/sync/errgroup"

	"agitracker/api/internal/search"
	"agitracker/api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// fanOut runs independent reads concurrently and returns the first error.
func fanOut(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

func (s *Service) ListTools(ctx context.Context, filter store.ToolFilter) (map[string]any, error) {
	filter.Page, filter.Limit = clampPage(filter.Page, filter.Limit)
	switch filter.Sort {
	case "", "newest", "oldest", "popular", "name":
	default:
		return nil, badRequest("INVALID_SORT", "sort must be newest, oldest, popular or name")
	}

	var (
		tools []store.Tool
		total int
	)
	err := fanOut(ctx,
		func(ctx context.Context) (err error) {
			tools, err = s.store.ListTools(ctx, filter)
			return err
		},
		func(ctx context.Context) (err error) {
			total, err = s.store.CountTools(ctx, filter)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []store.Tool{}
	}
	return map[string]any{
		"tools":      tools,
		"pagination": newPagination(filter.Page, filter.Limit, total),
	}, nil
}

// ViewTool returns an approved tool by numeric id or slug and counts the view.
func (s *Service) ViewTool(ctx context.Context, idOrSlug string) (store.Tool, error) {
	id, err := strconv.ParseInt(idOrSlug, 10, 64)
	if err != nil {
		id = 0
	}
	tool, err := s.store.ViewApprovedTool(ctx, id, idOrSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tool{}, errToolNotFound
	}
	return tool, err
}

func (s *Service) ListArticles(ctx context.Context, filter store.ArticleFilter) (map[string]any, error) {
	filter.Page, filter.Limit = clampPage(filter.Page, filter.Limit)

	var (
		articles []store.Article
		total    int
	)
	err := fanOut(ctx,
		func(ctx context.Context) (err error) {
			articles, err = s.store.ListArticles(ctx, filter)
			return err
		},
		func(ctx context.Context) (err error) {
			total, err = s.store.CountArticles(ctx, filter)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	if articles == nil {
		articles = []store.Article{}
	}
	return map[string]any{
		"articles":   articles,
		"pagination": newPagination(filter.Page, filter.Limit, total),
	}, nil
}

// ViewArticle returns a published article and counts the view.
func (s *Service) ViewArticle(ctx context.Context, slug string) (store.Article, error) {
	article, err := s.store.ViewPublishedArticle(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Article{}, errArticleNotFound
	}
	return article, err
}

// Search never fails; an unreachable index degrades to an empty result.
func (s *Service) Search(ctx context.Context, q search.Query) search.Result {
	if s.search == nil {
		q = q.Normalize()
		return search.Result{Hits: []search.ToolDocument{}, Page: q.Page, Limit: q.Limit, Facets: map[string]map[string]int{}}
	}
	return s.search.Search(ctx, q)
}
