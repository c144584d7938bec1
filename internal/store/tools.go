package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const toolColumns = `id, slug, name, tagline, description, category, tags, website, github, pricing, license,
	integrations, icon, screenshots, approved, featured, views, approved_by, approved_at, created_at, updated_at`

func (s *PostgresStore) scanTool(row rowScanner) (Tool, error) {
	var (
		tool        Tool
		screenshots []byte
	)
	err := row.Scan(
		&tool.ID, &tool.Slug, &tool.Name, &tool.Tagline, &tool.Description, &tool.Category,
		s.array(&tool.Tags), &tool.Website, &tool.Github, &tool.Pricing, &tool.License,
		s.array(&tool.Integrations), &tool.Icon, &screenshots, &tool.Approved, &tool.Featured,
		&tool.Views, &tool.ApprovedBy, &tool.ApprovedAt, &tool.CreatedAt, &tool.UpdatedAt,
	)
	if err != nil {
		return Tool{}, err
	}
	if len(screenshots) > 0 {
		if err := json.Unmarshal(screenshots, &tool.Screenshots); err != nil {
			return Tool{}, fmt.Errorf("decode screenshots for tool %d: %w", tool.ID, err)
		}
	}
	if tool.Tags == nil {
		tool.Tags = []string{}
	}
	if tool.Integrations == nil {
		tool.Integrations = []string{}
	}
	if tool.Screenshots == nil {
		tool.Screenshots = []Screenshot{}
	}
	return tool, nil
}

func encodeScreenshots(screenshots []Screenshot) (string, error) {
	if screenshots == nil {
		screenshots = []Screenshot{}
	}
	encoded, err := json.Marshal(screenshots)
	if err != nil {
		return "", fmt.Errorf("encode screenshots: %w", err)
	}
	return string(encoded), nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (s *PostgresStore) insertTool(ctx context.Context, tx *sql.Tx, tool Tool) (Tool, error) {
	screenshots, err := encodeScreenshots(tool.Screenshots)
	if err != nil {
		return Tool{}, err
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO tools (slug, name, tagline, description, category, tags, website, github, pricing, license,
			integrations, icon, screenshots, approved, featured, approved_by, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16, $17)
		RETURNING `+toolColumns,
		tool.Slug, tool.Name, tool.Tagline, tool.Description, tool.Category, nonNilStrings(tool.Tags),
		tool.Website, tool.Github, tool.Pricing, tool.License, nonNilStrings(tool.Integrations), tool.Icon,
		screenshots, tool.Approved, tool.Featured, tool.ApprovedBy, tool.ApprovedAt)
	created, err := s.scanTool(row)
	if err != nil {
		if isUniqueViolation(err, "tools_slug_key") {
			return Tool{}, fmt.Errorf("insert tool %q: %w", tool.Slug, ErrSlugTaken)
		}
		return Tool{}, fmt.Errorf("insert tool: %w", err)
	}
	return created, nil
}

// InsertTool creates a tool and schedules its search projection.
func (s *PostgresStore) InsertTool(ctx context.Context, tool Tool) (Tool, error) {
	var created Tool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		created, err = s.insertTool(ctx, tx, tool)
		if err != nil {
			return err
		}
		return insertEvents(ctx, tx, []OutboxEvent{{Kind: EventSearchIndex, Payload: ToolRef{ToolID: created.ID}}})
	})
	if err != nil {
		return Tool{}, err
	}
	return created, nil
}

// UpdateTool overwrites the editable fields of a tool and schedules its search projection.
func (s *PostgresStore) UpdateTool(ctx context.Context, tool Tool) (Tool, error) {
	screenshots, err := encodeScreenshots(tool.Screenshots)
	if err != nil {
		return Tool{}, err
	}
	var updated Tool
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE tools
			SET slug=$2, name=$3, tagline=$4, description=$5, category=$6, tags=$7, website=$8, github=$9,
				pricing=$10, license=$11, integrations=$12, icon=$13, screenshots=$14::jsonb, approved=$15,
				featured=$16, approved_by=COALESCE(approved_by, $17), approved_at=COALESCE(approved_at, $18),
				updated_at=NOW()
			WHERE id=$1
			RETURNING `+toolColumns,
			tool.ID, tool.Slug, tool.Name, tool.Tagline, tool.Description, tool.Category, nonNilStrings(tool.Tags),
			tool.Website, tool.Github, tool.Pricing, tool.License, nonNilStrings(tool.Integrations), tool.Icon,
			screenshots, tool.Approved, tool.Featured, tool.ApprovedBy, tool.ApprovedAt)
		var err error
		updated, err = s.scanTool(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if isUniqueViolation(err, "tools_slug_key") {
				return fmt.Errorf("update tool %q: %w", tool.Slug, ErrSlugTaken)
			}
			return fmt.Errorf("update tool: %w", err)
		}
		return insertEvents(ctx, tx, []OutboxEvent{{Kind: EventSearchIndex, Payload: ToolRef{ToolID: updated.ID}}})
	})
	if err != nil {
		return Tool{}, err
	}
	return updated, nil
}

// ToggleToolFeatured flips the featured flag and schedules a search projection.
func (s *PostgresStore) ToggleToolFeatured(ctx context.Context, id int64) (Tool, error) {
	var updated Tool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE tools SET featured = NOT featured, updated_at=NOW()
			WHERE id=$1
			RETURNING `+toolColumns, id)
		var err error
		updated, err = s.scanTool(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("toggle featured: %w", err)
		}
		return insertEvents(ctx, tx, []OutboxEvent{{Kind: EventSearchIndex, Payload: ToolRef{ToolID: id}}})
	})
	if err != nil {
		return Tool{}, err
	}
	return updated, nil
}

// DeleteTool removes a tool and schedules removal of its search document.
// It reports false when no tool had the id.
func (s *PostgresStore) DeleteTool(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM tools WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete tool: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete tool rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		deleted = true
		return insertEvents(ctx, tx, []OutboxEvent{{Kind: EventSearchDelete, Payload: ToolRef{ToolID: id}}})
	})
	return deleted, err
}

func (s *PostgresStore) GetTool(ctx context.Context, id int64) (Tool, error) {
	return s.scanTool(s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE id=$1`, id))
}

// ViewApprovedTool returns an approved tool by id or slug and counts the view.
func (s *PostgresStore) ViewApprovedTool(ctx context.Context, id int64, slug string) (Tool, error) {
	return s.scanTool(s.db.QueryRowContext(ctx, `
		UPDATE tools SET views = views + 1
		WHERE approved AND (id=$1 OR ($2 <> '' AND slug=$2))
		RETURNING `+toolColumns, id, slug))
}

func (s *PostgresStore) ToolSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tools WHERE slug=$1 AND id <> $2)`, slug, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tool slug: %w", err)
	}
	return exists, nil
}

func toolWhere(filter ToolFilter) (string, []any) {
	clauses := make([]string, 0)
	args := make([]any, 0)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !filter.IncludeUnapproved {
		clauses = append(clauses, "approved")
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Tag != "" {
		add("$%d = ANY(tags)", filter.Tag)
	}
	if filter.Pricing != "" {
		add("pricing = $%d", filter.Pricing)
	}
	if filter.License != "" {
		add("license = $%d", filter.License)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%", strings.ToLower(q))
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(name ILIKE $%d OR tagline ILIKE $%d OR description ILIKE $%d OR $%d = ANY(tags))", n-1, n-1, n-1, n))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func toolOrder(sort string) string {
	switch sort {
	case "oldest":
		return "created_at ASC, id ASC"
	case "popular":
		return "views DESC, id DESC"
	case "name":
		return "name ASC, id ASC"
	default:
		return "created_at DESC, id DESC"
	}
}

func (s *PostgresStore) ListTools(ctx context.Context, filter ToolFilter) ([]Tool, error) {
	where, args := toolWhere(filter)
	args = append(args, filter.Limit, pageOffset(filter.Page, filter.Limit))
	query := fmt.Sprintf(`SELECT %s FROM tools %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		toolColumns, where, toolOrder(filter.Sort), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	items := make([]Tool, 0)
	for rows.Next() {
		tool, err := s.scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		items = append(items, tool)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountTools(ctx context.Context, filter ToolFilter) (int, error) {
	where, args := toolWhere(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tools: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountFeaturedTools(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools WHERE approved AND featured`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count featured tools: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) TotalToolViews(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(views), 0) FROM tools`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum tool views: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ListApprovedToolSlugs(ctx context.Context) ([]SitemapEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, updated_at FROM tools WHERE approved ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tool slugs: %w", err)
	}
	defer rows.Close()

	items := make([]SitemapEntry, 0)
	for rows.Next() {
		var entry SitemapEntry
		if err := rows.Scan(&entry.Slug, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool slug: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}
