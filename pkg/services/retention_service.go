package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
)

// Default retention periods.
const (
	DefaultChangeLogRetention = 72 * time.Hour
	DefaultSearchLogRetention = 90 * 24 * time.Hour
)

// RetentionConfig sets how long maintenance data is kept. Zero values use
// the defaults.
type RetentionConfig struct {
	ChangeLog time.Duration
	SearchLog time.Duration
}

// PruneResult counts rows removed by one retention pass.
type PruneResult struct {
	ChangeLogDeleted int64
	SearchLogDeleted int64
}

// RetentionService removes consumed change-log entries and old search log
// entries.
type RetentionService interface {
	// Prune runs one retention pass. Change-log entries are only removed once
	// every listener cursor has passed them.
	Prune(ctx context.Context) (*PruneResult, error)

	// RunScheduler starts a background goroutine that prunes on the given interval.
	// It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	changeLogRepo repositories.ChangeLogRepository
	searchLog     SearchLogService
	cfg           RetentionConfig
	now           func() time.Time
	logger        *zap.Logger
}

func NewRetentionService(
	changeLogRepo repositories.ChangeLogRepository,
	searchLog SearchLogService,
	cfg RetentionConfig,
	logger *zap.Logger,
) RetentionService {
	if cfg.ChangeLog <= 0 {
		cfg.ChangeLog = DefaultChangeLogRetention
	}
	if cfg.SearchLog <= 0 {
		cfg.SearchLog = DefaultSearchLogRetention
	}
	return &retentionService{
		changeLogRepo: changeLogRepo,
		searchLog:     searchLog,
		cfg:           cfg,
		now:           time.Now,
		logger:        logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Prune(ctx context.Context) (*PruneResult, error) {
	now := s.now()
	result := &PruneResult{}

	changeDeleted, err := s.changeLogRepo.Prune(ctx, now.Add(-s.cfg.ChangeLog))
	if err != nil {
		s.logger.Error("Failed to prune change log", zap.Error(err))
		return result, fmt.Errorf("failed to prune change log: %w", err)
	}
	result.ChangeLogDeleted = changeDeleted

	searchDeleted, err := s.searchLog.PruneOlderThan(ctx, now.Add(-s.cfg.SearchLog))
	if err != nil {
		return result, fmt.Errorf("failed to prune search log: %w", err)
	}
	result.SearchLogDeleted = searchDeleted

	if changeDeleted > 0 || searchDeleted > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Duration("change_log_retention", s.cfg.ChangeLog),
			zap.Duration("search_log_retention", s.cfg.SearchLog),
			zap.Int64("change_log_deleted", changeDeleted),
			zap.Int64("search_log_deleted", searchDeleted))
	}

	return result, nil
}

// RunScheduler starts a background loop that prunes old data.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("change_log_retention", s.cfg.ChangeLog),
			zap.Duration("search_log_retention", s.cfg.SearchLog))

		// Run immediately on startup, then at each interval
		s.pruneOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.pruneOnce(ctx)
			}
		}
	}()
}

func (s *retentionService) pruneOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Prune(ctx); err != nil {
		s.logger.Error("Retention scheduler: prune failed", zap.Error(err))
	}
}
