// Package search projects approved tools into a full text index and queries
// it, falling back to Postgres full text search when the index is unavailable.
package search

import (
	"strconv"
	"strings"

	"agitracker/api/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// DefaultFacets are computed when a query names none.
var DefaultFacets = []string{"category", "tags", "pricing"}

// facetable lists attributes a caller may ask facet counts for.
var facetable = map[string]bool{
	"category":     true,
	"tags":         true,
	"pricing":      true,
	"license":      true,
	"integrations": true,
}

// sortable lists attributes a caller may sort by.
var sortable = map[string]bool{
	"createdAt": true,
	"views":     true,
}

// ToolDocument is the denormalized form of an approved tool in the index.
type ToolDocument struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	Tagline      string   `json:"tagline"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags"`
	Pricing      string   `json:"pricing"`
	License      string   `json:"license"`
	Integrations []string `json:"integrations"`
	Website      string   `json:"website"`
	Github       string   `json:"github"`
	Icon         string   `json:"icon"`
	Approved     bool     `json:"approved"`
	Featured     bool     `json:"featured"`
	CreatedAt    string   `json:"createdAt"`
	Views        int      `json:"views"`
}

// createdAtLayout is fixed width so lexical order matches time order.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

func NewToolDocument(tool store.Tool) ToolDocument {
	return ToolDocument{
		ID:           strconv.FormatInt(tool.ID, 10),
		Name:         tool.Name,
		Slug:         tool.Slug,
		Tagline:      tool.Tagline,
		Description:  tool.Description,
		Category:     tool.Category,
		Tags:         nonNilStrings(tool.Tags),
		Pricing:      tool.Pricing,
		License:      tool.License,
		Integrations: nonNilStrings(tool.Integrations),
		Website:      tool.Website,
		Github:       tool.Github,
		Icon:         tool.Icon,
		Approved:     tool.Approved,
		Featured:     tool.Featured,
		CreatedAt:    tool.CreatedAt.UTC().Format(createdAtLayout),
		Views:        tool.Views,
	}
}

// Query describes a search request. Filters are exact matches; approved
// tools are always the only ones returned.
type Query struct {
	Text         string
	Category     string
	Tag          string
	Pricing      string
	License      string
	Integrations string
	Featured     *bool
	Sort         []string
	Page         int
	Limit        int
	Facets       []string
}

// Normalize clamps paging and drops unknown sort and facet attributes.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	sorts := make([]string, 0, len(q.Sort))
	for _, s := range q.Sort {
		field, dir := splitSort(s)
		if field == "" {
			continue
		}
		sorts = append(sorts, field+":"+dir)
	}
	if len(sorts) == 0 {
		sorts = []string{"createdAt:desc"}
	}
	q.Sort = sorts

	facets := make([]string, 0, len(q.Facets))
	for _, f := range q.Facets {
		if facetable[f] {
			facets = append(facets, f)
		}
	}
	if len(q.Facets) == 0 {
		facets = append(facets, DefaultFacets...)
	}
	q.Facets = facets
	return q
}

func splitSort(value string) (string, string) {
	field, dir, found := strings.Cut(value, ":")
	if !sortable[field] {
		return "", ""
	}
	if !found || (dir != "asc" && dir != "desc") {
		dir = "desc"
	}
	return field, dir
}

// Result is the envelope returned for a search.
type Result struct {
	Hits   []ToolDocument            `json:"hits"`
	Total  int                       `json:"total"`
	Page   int                       `json:"page"`
	Limit  int                       `json:"limit"`
	Facets map[string]map[string]int `json:"facets"`
}

func emptyResult(q Query) Result {
	return Result{Hits: []ToolDocument{}, Total: 0, Page: q.Page, Limit: q.Limit, Facets: map[string]map[string]int{}}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
