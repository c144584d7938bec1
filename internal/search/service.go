package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"agitracker/api/internal/store"
)

// ErrUnavailable is returned by projection calls while the index is unreachable,
// so the caller can retry later.
var ErrUnavailable = errors.New("search index unavailable")

type indexer interface {
	Healthy() bool
	Search(q Query) (Result, error)
	IndexTools(docs []ToolDocument) error
	DeleteTools(ids []string) error
}

type fallback interface {
	Search(ctx context.Context, q Query) (Result, error)
	LoadToolDocuments(ctx context.Context) ([]ToolDocument, error)
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	index indexer
	pgfts fallback
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.index = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Enabled reports whether an index is configured at all.
func (s *Service) Enabled() bool {
	return s.index != nil
}

// Search never fails: it degrades from Meilisearch to Postgres to an empty result.
func (s *Service) Search(ctx context.Context, q Query) Result {
	q = q.Normalize()
	logger := zerolog.Ctx(ctx)

	if s.index != nil && s.index.Healthy() {
		result, err := s.index.Search(q)
		if err == nil {
			return result
		}
		logger.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return emptyResult(q)
	}
	result, err := s.pgfts.Search(ctx, q)
	if err != nil {
		logger.Error().Err(err).Msg("search: pgfts error")
		return emptyResult(q)
	}
	return result
}

// IndexTool projects a tool. Unapproved tools are removed from the index
// instead, so an unapproved tool is never searchable.
func (s *Service) IndexTool(ctx context.Context, tool store.Tool) error {
	if s.index == nil {
		return nil
	}
	if !s.index.Healthy() {
		return ErrUnavailable
	}
	if !tool.Approved {
		return s.DeleteTool(ctx, tool.ID)
	}
	if err := s.index.IndexTools([]ToolDocument{NewToolDocument(tool)}); err != nil {
		return fmt.Errorf("index tool %d: %w", tool.ID, err)
	}
	return nil
}

// UpdateTool has the same effect as IndexTool.
func (s *Service) UpdateTool(ctx context.Context, tool store.Tool) error {
	return s.IndexTool(ctx, tool)
}

// DeleteTool removes a tool document; an absent document is not an error.
func (s *Service) DeleteTool(_ context.Context, id int64) error {
	if s.index == nil {
		return nil
	}
	if !s.index.Healthy() {
		return ErrUnavailable
	}
	if err := s.index.DeleteTools([]string{strconv.FormatInt(id, 10)}); err != nil {
		return fmt.Errorf("delete tool %d from index: %w", id, err)
	}
	return nil
}

// ReindexReport summarizes a full resynchronization.
type ReindexReport struct {
	Indexed int `json:"indexed"`
	Removed int `json:"removed"`
}

// ReindexAllFromPG pushes every approved tool into the index and removes the
// documents of tools that are no longer approved.
func (s *Service) ReindexAllFromPG(ctx context.Context) (ReindexReport, error) {
	if s.index == nil || s.pgfts == nil {
		return ReindexReport{}, nil
	}
	if !s.index.Healthy() {
		return ReindexReport{}, ErrUnavailable
	}

	docs, err := s.pgfts.LoadToolDocuments(ctx)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("reindex load: %w", err)
	}

	approved := make([]ToolDocument, 0, len(docs))
	unapproved := make([]string, 0)
	for _, doc := range docs {
		if doc.Approved {
			approved = append(approved, doc)
		} else {
			unapproved = append(unapproved, doc.ID)
		}
	}

	if err := s.index.IndexTools(approved); err != nil {
		return ReindexReport{}, fmt.Errorf("reindex tools: %w", err)
	}
	if err := s.index.DeleteTools(unapproved); err != nil {
		return ReindexReport{Indexed: len(approved)}, fmt.Errorf("reindex remove unapproved: %w", err)
	}
	return ReindexReport{Indexed: len(approved), Removed: len(unapproved)}, nil
}
