package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-sync/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
)

// mockManagedSchemaRepo implements repositories.ManagedSchemaRepository in memory.
type mockManagedSchemaRepo struct {
	mu      sync.Mutex
	schemas map[string]*models.ManagedSchema
	err     error
}

func newMockManagedSchemaRepo() *mockManagedSchemaRepo {
	return &mockManagedSchemaRepo{schemas: make(map[string]*models.ManagedSchema)}
}

var _ repositories.ManagedSchemaRepository = (*mockManagedSchemaRepo)(nil)

func (m *mockManagedSchemaRepo) Upsert(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if s, ok := m.schemas[req.SchemaName]; ok {
		if req.DisplayName != "" {
			s.DisplayName = req.DisplayName
		}
		if req.Description != "" {
			s.Description = req.Description
		}
		if req.BusinessDomain != "" {
			s.BusinessDomain = req.BusinessDomain
		}
		copied := *s
		return &copied, false, nil
	}
	s := m.newSchema(req)
	copied := *s
	return &copied, true, nil
}

func (m *mockManagedSchemaRepo) Create(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.schemas[req.SchemaName]; ok {
		return nil, apperrors.ErrAlreadyRegistered
	}
	s := m.newSchema(req)
	copied := *s
	return &copied, nil
}

func (m *mockManagedSchemaRepo) newSchema(req *models.RegisterSchemaRequest) *models.ManagedSchema {
	now := time.Now()
	s := &models.ManagedSchema{
		ID:              uuid.New(),
		SchemaName:      req.SchemaName,
		DisplayName:     req.DisplayName,
		Description:     req.Description,
		BusinessDomain:  req.BusinessDomain,
		Metadata:        req.Metadata,
		LearnedPatterns: map[string]any{},
		DiscoveredAt:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.schemas[req.SchemaName] = s
	return s
}

func (m *mockManagedSchemaRepo) GetByName(ctx context.Context, schemaName string) (*models.ManagedSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.schemas[schemaName]
	if !ok {
		return nil, apperrors.ErrNotRegistered
	}
	copied := *s
	return &copied, nil
}

func (m *mockManagedSchemaRepo) List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ManagedSchema
	for _, s := range m.schemas {
		if activeOnly && !s.IsActive {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemaName < out[j].SchemaName })
	return out, nil
}

func (m *mockManagedSchemaRepo) SetActive(ctx context.Context, schemaName string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[schemaName]
	if !ok {
		return apperrors.ErrNotRegistered
	}
	s.IsActive = active
	return nil
}

func (m *mockManagedSchemaRepo) RecordSyncSummary(ctx context.Context, schemaName string, totalTables int, totalRows int64, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[schemaName]
	if !ok {
		return apperrors.ErrNotRegistered
	}
	s.TotalTables = totalTables
	s.TotalRows = totalRows
	s.LastSyncedAt = &syncedAt
	return nil
}

func (m *mockManagedSchemaRepo) MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[schemaName]
	if !ok {
		return apperrors.ErrNotRegistered
	}
	for k, v := range patterns {
		s.LearnedPatterns[k] = v
	}
	return nil
}

// mockSyncStatusRepo implements repositories.SyncStatusRepository with the
// same transition rules as the SQL implementation.
type mockSyncStatusRepo struct {
	mu       sync.Mutex
	statuses map[string]*models.SyncStatus
	schemas  *mockManagedSchemaRepo
}

func newMockSyncStatusRepo(schemas *mockManagedSchemaRepo) *mockSyncStatusRepo {
	return &mockSyncStatusRepo{statuses: make(map[string]*models.SyncStatus), schemas: schemas}
}

var _ repositories.SyncStatusRepository = (*mockSyncStatusRepo)(nil)

func (m *mockSyncStatusRepo) key(schemaName, tableName string) string {
	return schemaName + "." + tableName
}

func (m *mockSyncStatusRepo) ensure(schemaName, tableName string) (*models.SyncStatus, error) {
	if m.schemas != nil {
		if _, err := m.schemas.GetByName(context.Background(), schemaName); err != nil {
			return nil, err
		}
	}
	st, ok := m.statuses[m.key(schemaName, tableName)]
	if !ok {
		now := time.Now()
		st = &models.SyncStatus{
			ID:         uuid.New(),
			SchemaName: schemaName,
			TableName:  tableName,
			Status:     models.SyncStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.statuses[m.key(schemaName, tableName)] = st
	}
	return st, nil
}

func (m *mockSyncStatusRepo) Register(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.ensure(schemaName, tableName)
	if err != nil {
		return nil, err
	}
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) Begin(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.ensure(schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if st.Status == models.SyncStatusRunning {
		return nil, apperrors.ErrAlreadyRunning
	}
	now := time.Now()
	st.Status = models.SyncStatusRunning
	st.StartedAt = &now
	st.CompletedAt = nil
	st.RowsSynced = 0
	st.LastError = nil
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) transition(schemaName, tableName, from string, apply func(*models.SyncStatus)) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[m.key(schemaName, tableName)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if st.Status != from {
		return nil, fmt.Errorf("%w: %s is %s", apperrors.ErrInvalidTransition, tableName, st.Status)
	}
	apply(st)
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) Complete(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error) {
	return m.transition(schemaName, tableName, models.SyncStatusRunning, func(st *models.SyncStatus) {
		now := time.Now()
		st.Status = models.SyncStatusCompleted
		st.RowsSynced = rowsSynced
		st.CompletedAt = &now
	})
}

func (m *mockSyncStatusRepo) Fail(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error) {
	return m.transition(schemaName, tableName, models.SyncStatusRunning, func(st *models.SyncStatus) {
		now := time.Now()
		st.Status = models.SyncStatusFailed
		st.LastError = &errorText
		st.CompletedAt = &now
	})
}

func (m *mockSyncStatusRepo) Reset(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	return m.transition(schemaName, tableName, models.SyncStatusFailed, func(st *models.SyncStatus) {
		st.Status = models.SyncStatusPending
	})
}

func (m *mockSyncStatusRepo) FailStale(ctx context.Context, startedBefore time.Time, errorText string) ([]*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SyncStatus
	for _, st := range m.statuses {
		if st.Status != models.SyncStatusRunning || st.StartedAt == nil || !st.StartedAt.Before(startedBefore) {
			continue
		}
		now := time.Now()
		text := errorText
		st.Status = models.SyncStatusFailed
		st.LastError = &text
		st.CompletedAt = &now
		copied := *st
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockSyncStatusRepo) MarkFailed(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[m.key(schemaName, tableName)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if st.Status == models.SyncStatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", apperrors.ErrInvalidTransition, tableName, st.Status)
	}
	st.Status = models.SyncStatusFailed
	st.LastError = &errorText
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.ensure(schemaName, tableName)
	if err != nil {
		return nil, err
	}
	st.RealtimeEnabled = enabled
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[m.key(schemaName, tableName)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *st
	return &copied, nil
}

func (m *mockSyncStatusRepo) ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SyncStatus
	for _, st := range m.statuses {
		if st.SchemaName == schemaName {
			copied := *st
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

func (m *mockSyncStatusRepo) ListRealtime(ctx context.Context) ([]*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SyncStatus
	for _, st := range m.statuses {
		if st.RealtimeEnabled {
			copied := *st
			out = append(out, &copied)
		}
	}
	return out, nil
}

// mockTransactor restores the sync status repository when fn fails, the way
// a rolled back transaction would.
type mockTransactor struct {
	repo  *mockSyncStatusRepo
	calls int
}

var _ Transactor = (*mockTransactor)(nil)

func (m *mockTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	m.repo.mu.Lock()
	snapshot := make(map[string]models.SyncStatus, len(m.repo.statuses))
	for k, st := range m.repo.statuses {
		snapshot[k] = *st
	}
	m.repo.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.repo.mu.Lock()
		m.repo.statuses = make(map[string]*models.SyncStatus, len(snapshot))
		for k, st := range snapshot {
			restored := st
			m.repo.statuses[k] = &restored
		}
		m.repo.mu.Unlock()
		return err
	}
	return nil
}

// mockPatternRepo implements repositories.LearnedPatternRepository in memory.
type mockPatternRepo struct {
	mu       sync.Mutex
	patterns []*models.LearnedPattern
	topCalls int
	err      error
}

var _ repositories.LearnedPatternRepository = (*mockPatternRepo)(nil)

func patternIdentity(patternType, schemaScope, tableScope string, payload map[string]any) string {
	raw, _ := json.Marshal(payload)
	return strings.Join([]string{patternType, schemaScope, tableScope, string(raw)}, "|")
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func (m *mockPatternRepo) Observe(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	now := time.Now()
	id := patternIdentity(obs.PatternType, obs.SchemaScope, obs.TableScope, obs.Payload)
	for _, p := range m.patterns {
		if patternIdentity(p.PatternType, p.SchemaScope, p.TableScope, p.Payload) == id {
			p.Confidence = clamp01(p.Confidence + obs.ConfidenceDelta)
			p.UsageCount++
			p.LastUsedAt = &now
			copied := *p
			return &copied, nil
		}
	}
	p := &models.LearnedPattern{
		ID:          uuid.New(),
		PatternType: obs.PatternType,
		SchemaScope: obs.SchemaScope,
		TableScope:  obs.TableScope,
		Payload:     obs.Payload,
		Confidence:  clamp01(obs.ConfidenceDelta),
		UsageCount:  1,
		LastUsedAt:  &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.patterns = append(m.patterns, p)
	copied := *p
	return &copied, nil
}

func (m *mockPatternRepo) Top(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topCalls++
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.LearnedPattern
	for _, p := range m.patterns {
		if p.PatternType != patternType {
			continue
		}
		if p.SchemaScope != "" && p.SchemaScope != schemaScope {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].UsageCount > out[j].UsageCount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockSearchLogRepo implements repositories.SearchLogRepository in memory.
type mockSearchLogRepo struct {
	mu      sync.Mutex
	entries []*models.SearchLogEntry
	err     error
}

var _ repositories.SearchLogRepository = (*mockSearchLogRepo)(nil)

func (m *mockSearchLogRepo) Create(ctx context.Context, entry *models.SearchLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	entry.ID = uuid.New()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockSearchLogRepo) List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SearchLogEntry
	for _, e := range m.entries {
		if filters.SchemaName != "" && e.SchemaName != filters.SchemaName {
			continue
		}
		if filters.Success != nil && e.Success != *filters.Success {
			continue
		}
		out = append(out, e)
	}
	total := len(out)
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (m *mockSearchLogRepo) Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.SearchLogStats{Since: since}
	sessions := map[string]bool{}
	var latency int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.TotalSearches++
		if !e.Success {
			stats.Failures++
		}
		latency += e.LatencyMs
		if e.SessionID != "" {
			sessions[e.SessionID] = true
		}
	}
	if stats.TotalSearches > 0 {
		stats.AvgLatencyMs = float64(latency) / float64(stats.TotalSearches)
	}
	stats.UniqueSessions = int64(len(sessions))
	return stats, nil
}

func (m *mockSearchLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.SearchLogEntry
	var deleted int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

func (m *mockSearchLogRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// mockChangeLogRepo records Prune cutoffs.
type mockChangeLogRepo struct {
	mu           sync.Mutex
	pruneCutoffs []time.Time
	pruned       int64
	err          error
}

var _ repositories.ChangeLogRepository = (*mockChangeLogRepo)(nil)

func (m *mockChangeLogRepo) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*models.ChangeEvent, error) {
	return nil, nil
}

func (m *mockChangeLogRepo) Get(ctx context.Context, seq int64) (*models.ChangeEvent, error) {
	return nil, apperrors.ErrNotFound
}

func (m *mockChangeLogRepo) GetCursor(ctx context.Context, listenerName string) (int64, error) {
	return 0, nil
}

func (m *mockChangeLogRepo) SaveCursor(ctx context.Context, listenerName string, seq int64) error {
	return nil
}

func (m *mockChangeLogRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.pruneCutoffs = append(m.pruneCutoffs, cutoff)
	return m.pruned, nil
}

func (m *mockChangeLogRepo) pruneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pruneCutoffs)
}

// mockCatalog serves fixed tables and rows.
type mockCatalog struct {
	mu        sync.Mutex
	tables    map[string][]models.CatalogTable
	columns   map[string][]models.CatalogColumn
	keys      map[string][]postgres.KeyColumn
	fks       map[string][]models.ForeignKey
	rows      map[string][]models.Row
	scanErr   error
	scanCalls int
	// onScan runs before each page is returned.
	onScan func(call int)
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		tables:  map[string][]models.CatalogTable{},
		columns: map[string][]models.CatalogColumn{},
		keys:    map[string][]postgres.KeyColumn{},
		fks:     map[string][]models.ForeignKey{},
		rows:    map[string][]models.Row{},
	}
}

var _ CatalogReader = (*mockCatalog)(nil)

// addTable registers a table keyed by an integer "id" column.
func (m *mockCatalog) addTable(schemaName, tableName string, cols []models.CatalogColumn, rows ...models.Row) {
	k := schemaName + "." + tableName
	m.tables[schemaName] = append(m.tables[schemaName], models.CatalogTable{
		SchemaName:    schemaName,
		TableName:     tableName,
		EstimatedRows: int64(len(rows)),
	})
	m.columns[k] = cols
	m.keys[k] = []postgres.KeyColumn{{Name: "id", Type: "integer"}}
	m.rows[k] = rows
}

func (m *mockCatalog) ListTables(ctx context.Context, schemaName string) ([]models.CatalogTable, error) {
	return m.tables[schemaName], nil
}

func (m *mockCatalog) Columns(ctx context.Context, schemaName, tableName string) ([]models.CatalogColumn, error) {
	return m.columns[schemaName+"."+tableName], nil
}

func (m *mockCatalog) PrimaryKey(ctx context.Context, schemaName, tableName string) ([]postgres.KeyColumn, error) {
	return m.keys[schemaName+"."+tableName], nil
}

func (m *mockCatalog) ForeignKeys(ctx context.Context, schemaName, tableName string) ([]models.ForeignKey, error) {
	return m.fks[schemaName+"."+tableName], nil
}

// ScanRows pages through rows in slice order; the cursor is the row index.
func (m *mockCatalog) ScanRows(ctx context.Context, schemaName, tableName string, key []postgres.KeyColumn, after []string, limit int) ([]postgres.ScannedRow, error) {
	m.mu.Lock()
	m.scanCalls++
	call := m.scanCalls
	onScan := m.onScan
	m.mu.Unlock()

	if onScan != nil {
		onScan(call)
	}
	if m.scanErr != nil {
		return nil, m.scanErr
	}

	start := 0
	if after != nil {
		fmt.Sscanf(after[0], "%d", &start)
		start++
	}
	rows := m.rows[schemaName+"."+tableName]
	var out []postgres.ScannedRow
	for i := start; i < len(rows) && len(out) < limit; i++ {
		out = append(out, postgres.ScannedRow{Row: rows[i], Key: []string{fmt.Sprint(i)}})
	}
	return out, nil
}

// mockTriggers records trigger installs and drops.
type mockTriggers struct {
	installed map[string]bool
	calls     int
	err       error
}

var _ TriggerInstaller = (*mockTriggers)(nil)

func (m *mockTriggers) Install(ctx context.Context, schemaName, tableName string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.installed == nil {
		m.installed = map[string]bool{}
	}
	m.installed[schemaName+"."+tableName] = true
	return nil
}

func (m *mockTriggers) Drop(ctx context.Context, schemaName, tableName string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	delete(m.installed, schemaName+"."+tableName)
	return nil
}
