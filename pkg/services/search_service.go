package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/logging"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/sql"
)

// SearchService is the logged search boundary: every request produces
// exactly one search log entry, successful or not.
type SearchService interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
	// Limits reports the engine's result limits so callers can substitute the
	// default for an omitted limit. An explicit zero limit yields no hits.
	Limits() SearchLimits
}

type searchService struct {
	engine   HybridSearchEngine
	log      SearchLogService
	patterns PatternService
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSearchService creates a SearchService. A positive timeout bounds each
// search in addition to the caller's context.
func NewSearchService(engine HybridSearchEngine, log SearchLogService, patterns PatternService, timeout time.Duration, logger *zap.Logger) SearchService {
	return &searchService{
		engine:   engine,
		log:      log,
		patterns: patterns,
		timeout:  timeout,
		logger:   logger.Named("search-service"),
	}
}

var _ SearchService = (*searchService)(nil)

func (s *searchService) Limits() SearchLimits {
	return s.engine.Limits()
}

func (s *searchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	searchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	queryType := DefaultQueryType
	if strings.TrimSpace(req.Text) != "" {
		inferred, err := s.patterns.InferQueryType(searchCtx, req.Text)
		if err != nil {
			s.logger.Warn("Failed to infer query type", zap.Error(err))
		} else {
			queryType = inferred
		}
	}

	hits, searchErr := s.engine.Search(searchCtx, req.SearchQuery)
	latency := time.Since(start)

	entry := &models.SearchLogEntry{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		QueryText:   req.Text,
		QueryType:   queryType,
		SchemaName:  req.Schema,
		Tables:      hitTables(req.Table, hits),
		LatencyMs:   latency.Milliseconds(),
		ResultCount: len(hits),
		Success:     searchErr == nil,
		Metadata:    searchMetadata(req),
	}
	if searchErr != nil {
		msg := logging.SanitizeError(searchErr)
		entry.ErrorMessage = &msg
	}

	// The entry is written even when the caller has gone away.
	if err := s.log.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Search log write failed",
			zap.String("schema", req.Schema),
			zap.Error(err))
	}

	if searchErr != nil {
		s.logger.Error("Search failed",
			zap.String("schema", req.Schema),
			zap.String("query", logging.SanitizeSearchText(req.Text)),
			zap.Error(searchErr))
		return nil, searchErr
	}

	return &models.SearchResponse{
		Hits:      hits,
		QueryType: queryType,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// hitTables lists the tables a search touched: the requested table, or the
// distinct tables of the hits in rank order.
func hitTables(requested string, hits []models.SearchHit) []string {
	if requested != "" {
		return []string{requested}
	}
	seen := make(map[string]bool)
	var tables []string
	for _, h := range hits {
		if !seen[h.Table] {
			seen[h.Table] = true
			tables = append(tables, h.Table)
		}
	}
	return tables
}

func searchMetadata(req *models.SearchRequest) map[string]any {
	meta := map[string]any{
		"limit": req.Limit,
	}
	if req.Table != "" {
		meta["table"] = req.Table
	}
	if len(req.Embedding) > 0 {
		meta["embedding_dimension"] = len(req.Embedding)
	}
	if len(req.MetadataFilter) > 0 {
		meta["metadata_filter"] = req.MetadataFilter
	}
	if findings := sql.CheckSearchInput(req.Text, req.MetadataFilter); len(findings) > 0 {
		flagged := make([]map[string]any, 0, len(findings))
		for _, f := range findings {
			flagged = append(flagged, map[string]any{
				"field":       f.Field,
				"kind":        f.Kind,
				"fingerprint": f.Fingerprint,
			})
		}
		meta["suspicious_input"] = flagged
	}
	return meta
}
