package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS answers tool searches from Postgres when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

const documentColumns = `id::text, name, slug, tagline, description, category, to_json(tags), pricing, license,
	to_json(integrations), website, github, icon, approved, featured,
	to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"'), views`

// sortColumns maps index sort attributes onto tool columns.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"views":     "views",
}

// pgWhere mirrors the filter expression sent to Meilisearch.
func pgWhere(q Query) (string, []any) {
	clauses := []string{"approved"}
	args := make([]any, 0)
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, text)
		clauses = append(clauses, fmt.Sprintf("(fts @@ plainto_tsquery('english', $%d) OR lower($%d) = ANY(tags))", len(args), len(args)))
	}
	for _, filter := range []struct {
		column string
		value  string
	}{
		{"category", q.Category},
		{"pricing", q.Pricing},
		{"license", q.License},
	} {
		if filter.value == "" {
			continue
		}
		args = append(args, filter.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", filter.column, len(args)))
	}
	for _, filter := range []struct {
		column string
		value  string
	}{
		{"tags", q.Tag},
		{"integrations", q.Integrations},
	} {
		if filter.value == "" {
			continue
		}
		args = append(args, filter.value)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(%s)", len(args), filter.column))
	}
	if q.Featured != nil {
		args = append(args, *q.Featured)
		clauses = append(clauses, fmt.Sprintf("featured = $%d", len(args)))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func pgOrder(sorts []string) string {
	parts := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		field, dir := splitSort(s)
		column, ok := sortColumns[field]
		if !ok {
			continue
		}
		parts = append(parts, column+" "+strings.ToUpper(dir))
	}
	parts = append(parts, "id DESC")
	return strings.Join(parts, ", ")
}

// Search runs a normalized query with the same result shape as Meili.Search.
func (p *PgFTS) Search(ctx context.Context, q Query) (Result, error) {
	where, args := pgWhere(q)
	result := emptyResult(q)

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools `+where, args...).Scan(&result.Total); err != nil {
		return Result{}, fmt.Errorf("pgfts count: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.Limit, (q.Page-1)*q.Limit)
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM tools %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		documentColumns, where, pgOrder(q.Sort), len(pageArgs)-1, len(pageArgs)), pageArgs...)
	if err != nil {
		return Result{}, fmt.Errorf("pgfts query: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return Result{}, err
	}
	result.Hits = docs

	for _, facet := range q.Facets {
		counts, err := p.facetCounts(ctx, facet, where, args)
		if err != nil {
			return Result{}, err
		}
		result.Facets[facet] = counts
	}
	return result, nil
}

func (p *PgFTS) facetCounts(ctx context.Context, facet, where string, args []any) (map[string]int, error) {
	var query string
	switch facet {
	case "category", "pricing", "license":
		query = fmt.Sprintf(`SELECT %s, COUNT(*) FROM tools %s AND %s <> '' GROUP BY 1`, facet, where, facet)
	case "tags", "integrations":
		query = fmt.Sprintf(`SELECT value, COUNT(*) FROM tools CROSS JOIN LATERAL unnest(%s) AS value %s GROUP BY 1`, facet, where)
	default:
		return nil, fmt.Errorf("pgfts: unsupported facet %q", facet)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts facet %s: %w", facet, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			value string
			count int
		)
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("pgfts scan facet %s: %w", facet, err)
		}
		counts[value] = count
	}
	return counts, rows.Err()
}

// LoadToolDocuments returns every tool, approved or not, in index form.
func (p *PgFTS) LoadToolDocuments(ctx context.Context) ([]ToolDocument, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM tools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load tool documents: %w", err)
	}
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]ToolDocument, error) {
	defer rows.Close()

	docs := make([]ToolDocument, 0)
	for rows.Next() {
		var (
			doc                ToolDocument
			tags, integrations []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Slug, &doc.Tagline, &doc.Description, &doc.Category, &tags,
			&doc.Pricing, &doc.License, &integrations, &doc.Website, &doc.Github, &doc.Icon, &doc.Approved,
			&doc.Featured, &doc.CreatedAt, &doc.Views); err != nil {
			return nil, fmt.Errorf("scan tool document: %w", err)
		}
		if err := json.Unmarshal(tags, &doc.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for tool %s: %w", doc.ID, err)
		}
		if err := json.Unmarshal(integrations, &doc.Integrations); err != nil {
			return nil, fmt.Errorf("decode integrations for tool %s: %w", doc.ID, err)
		}
		doc.Tags = nonNilStrings(doc.Tags)
		doc.Integrations = nonNilStrings(doc.Integrations)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool documents: %w", err)
	}
	return docs, nil
}
