package handlers

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
)

type mockSearchService struct {
	resp    *models.SearchResponse
	err     error
	lastReq *models.SearchRequest
}

func (m *mockSearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockSearchService) Limits() services.SearchLimits {
	return services.SearchLimits{Default: 10, Max: 100}
}

var _ services.SearchService = (*mockSearchService)(nil)

type mockSearchLogService struct {
	entries     []*models.SearchLogEntry
	stats       *models.SearchLogStats
	err         error
	lastFilters models.SearchLogFilters
	lastSince   time.Time
}

func (m *mockSearchLogService) Append(ctx context.Context, entry *models.SearchLogEntry) error {
	return m.err
}

func (m *mockSearchLogService) List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error) {
	m.lastFilters = filters
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.entries, len(m.entries), nil
}

func (m *mockSearchLogService) Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error) {
	m.lastSince = since
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

func (m *mockSearchLogService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, m.err
}

var _ services.SearchLogService = (*mockSearchLogService)(nil)

type mockRegistry struct {
	schemas        map[string]*models.ManagedSchema
	inventory      *models.SchemaInventory
	err            error
	lastActiveOnly bool
}

func (m *mockRegistry) Register(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error) {
	return nil, m.err
}

func (m *mockRegistry) Activate(ctx context.Context, schemaName string) error {
	return m.setActive(schemaName, true)
}

func (m *mockRegistry) Deactivate(ctx context.Context, schemaName string) error {
	return m.setActive(schemaName, false)
}

func (m *mockRegistry) setActive(schemaName string, active bool) error {
	if m.err != nil {
		return m.err
	}
	s, ok := m.schemas[schemaName]
	if !ok {
		return apperrors.ErrNotRegistered
	}
	s.IsActive = active
	return nil
}

func (m *mockRegistry) Get(ctx context.Context, schemaName string) (*models.ManagedSchema, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.schemas[schemaName]
	if !ok {
		return nil, apperrors.ErrNotRegistered
	}
	return s, nil
}

func (m *mockRegistry) List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error) {
	m.lastActiveOnly = activeOnly
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.ManagedSchema
	for _, s := range m.schemas {
		if !activeOnly || s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRegistry) IsActive(ctx context.Context, schemaName string) (bool, error) {
	s, ok := m.schemas[schemaName]
	return ok && s.IsActive, m.err
}

func (m *mockRegistry) RecordSyncSummary(ctx context.Context, schemaName string, tableCount int, rowCount int64, syncedAt time.Time) error {
	return m.err
}

func (m *mockRegistry) MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error {
	return m.err
}

func (m *mockRegistry) TableInventory(ctx context.Context, schemaName string) (*models.SchemaInventory, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.schemas[schemaName]; !ok {
		return nil, apperrors.ErrNotRegistered
	}
	return m.inventory, nil
}

var _ services.SchemaRegistryService = (*mockRegistry)(nil)

type mockTracker struct {
	statuses []*models.SyncStatus
	err      error
}

func (m *mockTracker) RegisterTable(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) BeginSync(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) CompleteSync(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) FailSync(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) Retry(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) RecoverStale(ctx context.Context, olderThan time.Duration) ([]*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) RecordRealtimeFailure(ctx context.Context, schemaName, tableName string, cause error) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return nil, m.err
}

func (m *mockTracker) ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.statuses, nil
}

var _ services.SyncTrackerService = (*mockTracker)(nil)

type mockPatternService struct {
	patterns []*models.LearnedPattern
	err      error
	lastType string
	lastLim  int
}

func (m *mockPatternService) RecordObservation(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error) {
	return nil, m.err
}

func (m *mockPatternService) TopPatterns(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error) {
	m.lastType, m.lastLim = patternType, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.patterns, nil
}

func (m *mockPatternService) InferQueryType(ctx context.Context, text string) (string, error) {
	return services.DefaultQueryType, nil
}

var _ services.PatternService = (*mockPatternService)(nil)

type mockChecker struct {
	pingErr       error
	vectorVersion string
	vectorErr     error
}

func (m *mockChecker) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockChecker) VectorExtensionVersion(ctx context.Context) (string, error) {
	return m.vectorVersion, m.vectorErr
}

type mockStats struct {
	stats *models.EmbeddingStats
	err   error
}

func (m *mockStats) Stats(ctx context.Context) (*models.EmbeddingStats, error) {
	return m.stats, m.err
}
