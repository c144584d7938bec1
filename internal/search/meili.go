package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const toolsIndex = "tools"

var (
	searchableAttributes = []string{"name", "tagline", "description", "category", "tags"}
	filterableAttributes = []string{"category", "tags", "pricing", "license", "integrations", "approved", "featured"}
	sortableAttributes   = []string{"createdAt", "views"}
	rankingRules         = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}
)

// Meili projects tools into a Meilisearch index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the tools index. An
// unreachable server is not an error: the client reports unhealthy and the
// health loop reconfigures the index once it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        toolsIndex,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug().Err(err).Msg("search: create tools index (may already exist)")
	}

	index := m.client.Index(toolsIndex)
	filterable := make([]interface{}, len(filterableAttributes))
	for i, v := range filterableAttributes {
		filterable[i] = v
	}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("search: update filterable attributes")
	}
	searchable := append([]string(nil), searchableAttributes...)
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: update searchable attributes")
	}
	sortable := append([]string(nil), sortableAttributes...)
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Warn().Err(err).Msg("search: update sortable attributes")
	}
	rules := append([]string(nil), rankingRules...)
	if _, err := index.UpdateRankingRules(&rules); err != nil {
		log.Warn().Err(err).Msg("search: update ranking rules")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs a normalized query against the tools index.
func (m *Meili) Search(q Query) (Result, error) {
	if !m.healthy.Load() {
		return Result{}, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(toolsIndex).Search(q.Text, &meili.SearchRequest{
		Limit:  int64(q.Limit),
		Offset: int64((q.Page - 1) * q.Limit),
		Filter: meiliFilter(q),
		Sort:   q.Sort,
		Facets: q.Facets,
	})
	if err != nil {
		m.healthy.Store(false)
		return Result{}, fmt.Errorf("meilisearch search: %w", err)
	}

	result := emptyResult(q)
	result.Total = int(resp.EstimatedTotalHits)
	for _, hit := range resp.Hits {
		doc, err := decodeHit(hit)
		if err != nil {
			return Result{}, err
		}
		result.Hits = append(result.Hits, doc)
	}
	if resp.FacetDistribution != nil {
		raw, err := json.Marshal(resp.FacetDistribution)
		if err != nil {
			return Result{}, fmt.Errorf("encode facet distribution: %w", err)
		}
		if err := json.Unmarshal(raw, &result.Facets); err != nil {
			return Result{}, fmt.Errorf("decode facet distribution: %w", err)
		}
		if result.Facets == nil {
			result.Facets = map[string]map[string]int{}
		}
	}
	return result, nil
}

// meiliFilter builds the filter expression. Unapproved tools never match.
func meiliFilter(q Query) []string {
	filters := []string{"approved = true"}
	for _, filter := range []struct {
		attribute string
		value     string
	}{
		{"category", q.Category},
		{"tags", q.Tag},
		{"pricing", q.Pricing},
		{"license", q.License},
		{"integrations", q.Integrations},
	} {
		if filter.value != "" {
			filters = append(filters, filter.attribute+" = "+meiliQuote(filter.value))
		}
	}
	if q.Featured != nil {
		filters = append(filters, fmt.Sprintf("featured = %t", *q.Featured))
	}
	return filters
}

// meiliQuote wraps a value in double quotes for a filter expression. Only
// backslash and double quote are escaped.
func meiliQuote(value string) string {
	return `"` + filterEscaper.Replace(value) + `"`
}

var filterEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func decodeHit(hit meili.Hit) (ToolDocument, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return ToolDocument{}, fmt.Errorf("encode hit: %w", err)
	}
	var doc ToolDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ToolDocument{}, fmt.Errorf("decode hit: %w", err)
	}
	doc.Tags = nonNilStrings(doc.Tags)
	doc.Integrations = nonNilStrings(doc.Integrations)
	return doc, nil
}

// IndexTools adds or replaces tool documents.
func (m *Meili) IndexTools(docs []ToolDocument) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(toolsIndex).AddDocuments(docs, nil)
	return err
}

// DeleteTools removes tool documents. Missing documents are not an error.
func (m *Meili) DeleteTools(ids []string) error {
	index := m.client.Index(toolsIndex)
	for _, id := range ids {
		if _, err := index.DeleteDocument(strings.TrimSpace(id), nil); err != nil {
			return err
		}
	}
	return nil
}
