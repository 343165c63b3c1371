package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
)

const (
	defaultSearchLogLimit = 50
	maxSearchLogLimit     = 1000
)

// SearchLogService is the append-only activity log of retrieval requests.
type SearchLogService interface {
	Append(ctx context.Context, entry *models.SearchLogEntry) error
	List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error)
	Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error)
	// PruneOlderThan removes entries created before cutoff. It is a retention
	// task, not part of the log's public contract.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type searchLogService struct {
	repo   repositories.SearchLogRepository
	logger *zap.Logger
}

// NewSearchLogService creates a SearchLogService.
func NewSearchLogService(repo repositories.SearchLogRepository, logger *zap.Logger) SearchLogService {
	return &searchLogService{
		repo:   repo,
		logger: logger.Named("search-log"),
	}
}

var _ SearchLogService = (*searchLogService)(nil)

func (s *searchLogService) Append(ctx context.Context, entry *models.SearchLogEntry) error {
	if entry.QueryText == "" {
		return fmt.Errorf("%w: query text is required", apperrors.ErrInvalidArgument)
	}
	if entry.LatencyMs < 0 {
		entry.LatencyMs = 0
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to append search log entry",
			zap.String("schema", entry.SchemaName),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *searchLogService) List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = defaultSearchLogLimit
	}
	if filters.Limit > maxSearchLogLimit {
		filters.Limit = maxSearchLogLimit
	}

	entries, total, err := s.repo.List(ctx, filters)
	if err != nil {
		s.logger.Error("Failed to list search log", zap.Error(err))
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *searchLogService) Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error) {
	stats, err := s.repo.Stats(ctx, since)
	if err != nil {
		s.logger.Error("Failed to compute search stats", zap.Time("since", since), zap.Error(err))
		return nil, err
	}
	return stats, nil
}

func (s *searchLogService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune search log", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Pruned search log", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
