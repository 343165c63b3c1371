package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/logging"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
)

// SyncTrackerService tracks bulk synchronization per table.
type SyncTrackerService interface {
	RegisterTable(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	// BeginSync claims the table. Exactly one concurrent caller succeeds; the
	// others get ErrAlreadyRunning.
	BeginSync(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	CompleteSync(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error)
	FailSync(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error)
	// Retry moves a failed table back to pending.
	Retry(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	// RecoverStale fails tables that have been running for longer than
	// olderThan, so a sync interrupted by a crash can be started again.
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]*models.SyncStatus, error)
	// RecordRealtimeFailure marks a table failed after a change event could
	// not be applied to its index. A running table is left alone; the bulk
	// sync in progress rereads its rows.
	RecordRealtimeFailure(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error)
	// SetRealtime toggles change capture for the table and installs or drops
	// its change trigger.
	SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error)
	Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error)
}

type syncTrackerService struct {
	repo     repositories.SyncStatusRepository
	triggers TriggerInstaller
	tx       Transactor
	logger   *zap.Logger
}

// NewSyncTrackerService creates a SyncTrackerService. triggers may be nil, in
// which case SetRealtime only records the flag. SetRealtime records the flag
// and changes the trigger in one transaction of tx.
func NewSyncTrackerService(repo repositories.SyncStatusRepository, triggers TriggerInstaller, tx Transactor, logger *zap.Logger) SyncTrackerService {
	return &syncTrackerService{
		repo:     repo,
		triggers: triggers,
		tx:       tx,
		logger:   logger.Named("sync-tracker"),
	}
}

var _ SyncTrackerService = (*syncTrackerService)(nil)

func (s *syncTrackerService) RegisterTable(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	status, err := s.repo.Register(ctx, schemaName, tableName)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotRegistered) {
			s.logger.Error("Failed to register table",
				zap.String("schema", schemaName),
				zap.String("table", tableName),
				zap.Error(err))
		}
		return nil, err
	}
	return status, nil
}

func (s *syncTrackerService) BeginSync(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	status, err := s.repo.Begin(ctx, schemaName, tableName)
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyRunning) || errors.Is(err, apperrors.ErrNotRegistered) {
			return nil, err
		}
		s.logger.Error("Failed to begin sync",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Sync started",
		zap.String("schema", schemaName),
		zap.String("table", tableName))
	return status, nil
}

func (s *syncTrackerService) CompleteSync(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error) {
	status, err := s.repo.Complete(ctx, schemaName, tableName, rowsSynced)
	if err != nil {
		s.logger.Error("Failed to complete sync",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Sync completed",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.Int64("rows_synced", rowsSynced))
	return status, nil
}

func (s *syncTrackerService) FailSync(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error) {
	errText := "unknown error"
	if cause != nil {
		errText = logging.SanitizeError(cause)
	}

	status, err := s.repo.Fail(ctx, schemaName, tableName, errText)
	if err != nil {
		s.logger.Error("Failed to record sync failure",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
		return nil, err
	}

	s.logger.Warn("Sync failed",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.String("error", errText))
	return status, nil
}

func (s *syncTrackerService) Retry(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return s.repo.Reset(ctx, schemaName, tableName)
}

func (s *syncTrackerService) RecoverStale(ctx context.Context, olderThan time.Duration) ([]*models.SyncStatus, error) {
	if olderThan < 0 {
		return nil, fmt.Errorf("%w: olderThan must not be negative", apperrors.ErrInvalidArgument)
	}
	errText := fmt.Sprintf("sync abandoned: still running after %s", olderThan)

	recovered, err := s.repo.FailStale(ctx, time.Now().Add(-olderThan), errText)
	if err != nil {
		s.logger.Error("Failed to recover stale syncs", zap.Error(err))
		return nil, err
	}
	for _, st := range recovered {
		s.logger.Warn("Recovered stale sync",
			zap.String("schema", st.SchemaName),
			zap.String("table", st.TableName),
			zap.Timep("started_at", st.StartedAt))
	}
	return recovered, nil
}

func (s *syncTrackerService) RecordRealtimeFailure(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error) {
	errText := "realtime reindex failed"
	if cause != nil {
		errText = "realtime reindex failed: " + logging.SanitizeError(cause)
	}

	status, err := s.repo.MarkFailed(ctx, schemaName, tableName, errText)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			s.logger.Info("Realtime failure not recorded, table is syncing",
				zap.String("schema", schemaName),
				zap.String("table", tableName))
			return nil, err
		}
		s.logger.Error("Failed to record realtime failure",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
		return nil, err
	}

	s.logger.Warn("Realtime reindex failed",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.String("error", errText))
	return status, nil
}

func (s *syncTrackerService) SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error) {
	var status *models.SyncStatus
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		// The flag is written first: an unregistered schema fails here,
		// before any trigger DDL runs.
		var err error
		status, err = s.repo.SetRealtime(ctx, schemaName, tableName, enabled)
		if err != nil {
			return err
		}
		if s.triggers == nil {
			return nil
		}
		if enabled {
			return s.triggers.Install(ctx, schemaName, tableName)
		}
		return s.triggers.Drop(ctx, schemaName, tableName)
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotRegistered) {
			s.logger.Error("Failed to set realtime sync",
				zap.String("schema", schemaName),
				zap.String("table", tableName),
				zap.Bool("enabled", enabled),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Realtime sync changed",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.Bool("enabled", enabled))
	return status, nil
}

func (s *syncTrackerService) Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return s.repo.Get(ctx, schemaName, tableName)
}

func (s *syncTrackerService) ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error) {
	return s.repo.ListBySchema(ctx, schemaName)
}
