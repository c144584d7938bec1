package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const articleColumns = `a.id, a.slug, a.title, a.excerpt, a.body, a.hero_image, a.tags, a.published, a.featured, a.views,
	a.author_id, COALESCE(u.name, ''), u.email, a.published_at, a.created_at, a.updated_at`

const articleFrom = ` FROM articles a JOIN users u ON u.id = a.author_id `

func (s *PostgresStore) scanArticle(row rowScanner) (Article, error) {
	var article Article
	err := row.Scan(&article.ID, &article.Slug, &article.Title, &article.Excerpt, &article.Body, &article.HeroImage,
		s.array(&article.Tags), &article.Published, &article.Featured, &article.Views, &article.AuthorID,
		&article.AuthorName, &article.AuthorEmail, &article.PublishedAt, &article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return Article{}, err
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}
	return article, nil
}

func (s *PostgresStore) InsertArticle(ctx context.Context, article Article) (Article, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO articles (slug, title, excerpt, body, hero_image, tags, published, featured, author_id, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		article.Slug, article.Title, article.Excerpt, article.Body, article.HeroImage, nonNilStrings(article.Tags),
		article.Published, article.Featured, article.AuthorID, article.PublishedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "articles_slug_key") {
			return Article{}, fmt.Errorf("insert article %q: %w", article.Slug, ErrSlugTaken)
		}
		return Article{}, fmt.Errorf("insert article: %w", err)
	}
	return s.GetArticle(ctx, id)
}

// UpdateArticle overwrites the editable fields. published_at is only ever set
// once: an existing value is kept even if the article is unpublished.
func (s *PostgresStore) UpdateArticle(ctx context.Context, article Article) (Article, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET slug=$2, title=$3, excerpt=$4, body=$5, hero_image=$6, tags=$7, published=$8, featured=$9,
			published_at=COALESCE(published_at, $10), updated_at=NOW()
		WHERE id=$1`,
		article.ID, article.Slug, article.Title, article.Excerpt, article.Body, article.HeroImage,
		nonNilStrings(article.Tags), article.Published, article.Featured, article.PublishedAt)
	if err != nil {
		if isUniqueViolation(err, "articles_slug_key") {
			return Article{}, fmt.Errorf("update article %q: %w", article.Slug, ErrSlugTaken)
		}
		return Article{}, fmt.Errorf("update article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Article{}, fmt.Errorf("update article rows affected: %w", err)
	}
	if affected == 0 {
		return Article{}, sql.ErrNoRows
	}
	return s.GetArticle(ctx, article.ID)
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete article rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id int64) (Article, error) {
	return s.scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+articleFrom+`WHERE a.id=$1`, id))
}

// ViewPublishedArticle returns a published article by slug and counts the view.
func (s *PostgresStore) ViewPublishedArticle(ctx context.Context, slug string) (Article, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE articles SET views = views + 1
		WHERE slug=$1 AND published
		RETURNING id`, slug).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Article{}, err
		}
		return Article{}, fmt.Errorf("count article view: %w", err)
	}
	return s.GetArticle(ctx, id)
}

func (s *PostgresStore) ArticleSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM articles WHERE slug=$1 AND id <> $2)`, slug, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check article slug: %w", err)
	}
	return exists, nil
}

func articleWhere(filter ArticleFilter) (string, []any) {
	clauses := make([]string, 0)
	args := make([]any, 0)
	if !filter.IncludeUnpublished {
		clauses = append(clauses, "a.published")
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(a.tags)", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		clauses = append(clauses, fmt.Sprintf("(a.title ILIKE $%d OR a.excerpt ILIKE $%d)", len(args), len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListArticles orders published listings by publish time; the admin view
// (unpublished included) orders by creation time.
func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]Article, error) {
	where, args := articleWhere(filter)
	order := "a.published_at DESC NULLS LAST, a.id DESC"
	if filter.IncludeUnpublished {
		order = "a.created_at DESC, a.id DESC"
	}
	args = append(args, filter.Limit, pageOffset(filter.Page, filter.Limit))
	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		articleColumns, articleFrom, where, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		article, err := s.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, article)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountArticles(ctx context.Context, filter ArticleFilter) (int, error) {
	where, args := articleWhere(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles a `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListPublishedArticleSlugs(ctx context.Context) ([]SitemapEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, updated_at FROM articles WHERE published ORDER BY published_at DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("list article slugs: %w", err)
	}
	defer rows.Close()

	items := make([]SitemapEntry, 0)
	for rows.Next() {
		var entry SitemapEntry
		if err := rows.Scan(&entry.Slug, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan article slug: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}
