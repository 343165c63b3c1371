package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// SearchLimits bounds result counts.
type SearchLimits struct {
	Default int
	Max     int
}

func (l SearchLimits) withDefaults() SearchLimits {
	if l.Default <= 0 {
		l.Default = 10
	}
	if l.Max < l.Default {
		l.Max = max(l.Default, 100)
	}
	return l
}

// HybridSearchEngine ranks indexed rows of one schema by semantic similarity
// to a query embedding, restricted by exact metadata filters. It never writes.
type HybridSearchEngine interface {
	// Search returns at most q.Limit hits, most similar first. Unregistered or
	// inactive schemas, a zero limit and unmatched filters all yield no hits.
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchHit, error)
	Limits() SearchLimits
}

type hybridSearchEngine struct {
	registry SchemaRegistryService
	embedder embedding.Embedder
	store    vectorstore.Store
	limits   SearchLimits
	logger   *zap.Logger
}

// NewHybridSearchEngine creates a HybridSearchEngine.
func NewHybridSearchEngine(
	registry SchemaRegistryService,
	embedder embedding.Embedder,
	store vectorstore.Store,
	limits SearchLimits,
	logger *zap.Logger,
) HybridSearchEngine {
	return &hybridSearchEngine{
		registry: registry,
		embedder: embedder,
		store:    store,
		limits:   limits.withDefaults(),
		logger:   logger.Named("search-engine"),
	}
}

var _ HybridSearchEngine = (*hybridSearchEngine)(nil)

func (e *hybridSearchEngine) Limits() SearchLimits {
	return e.limits
}

func (e *hybridSearchEngine) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchHit, error) {
	if len(q.Embedding) == 0 && strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("%w: query text or embedding is required", apperrors.ErrInvalidArgument)
	}
	if q.Schema == "" {
		return nil, fmt.Errorf("%w: schema is required", apperrors.ErrInvalidArgument)
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative, got %d", apperrors.ErrInvalidArgument, q.Limit)
	}
	hits := []models.SearchHit{}
	if q.Limit == 0 {
		return hits, nil
	}
	limit := min(q.Limit, e.limits.Max)

	active, err := e.registry.IsActive(ctx, q.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema %s: %w", q.Schema, err)
	}
	if !active {
		e.logger.Debug("Search on inactive or unregistered schema", zap.String("schema", q.Schema))
		return hits, nil
	}

	vec := q.Embedding
	if len(vec) == 0 {
		vec, err = embedding.EmbedOne(ctx, e.embedder, q.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
	}
	if err := vectorstore.CheckDimension(e.store.Dimension(), vec); err != nil {
		return nil, err
	}

	scored, err := e.store.RankBySimilarity(ctx, vectorstore.RankQuery{
		Embedding:      vec,
		Schema:         q.Schema,
		Table:          q.Table,
		MetadataFilter: q.MetadataFilter,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank records: %w", err)
	}

	for _, s := range scored {
		hits = append(hits, models.SearchHit{
			ID:         s.Record.ID,
			Table:      s.Record.TableName,
			Content:    s.Record.Content,
			Metadata:   s.Record.Metadata,
			Similarity: clampSimilarity(s.Similarity),
		})
	}
	return hits, nil
}

// clampSimilarity maps raw 1 - cosine distance into [0, 1].
func clampSimilarity(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
