package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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
	if m.resp == nil {
		return &models.SearchResponse{QueryType: services.DefaultQueryType}, nil
	}
	return m.resp, nil
}

func (m *mockSearchService) Limits() services.SearchLimits {
	return services.SearchLimits{Default: 10, Max: 100}
}

type mockRegistry struct {
	schemas        []*models.ManagedSchema
	err            error
	lastActiveOnly bool
}

func (m *mockRegistry) find(name string) *models.ManagedSchema {
	for _, s := range m.schemas {
		if s.SchemaName == name {
			return s
		}
	}
	return nil
}

func (m *mockRegistry) Register(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error) {
	return nil, m.err
}

func (m *mockRegistry) Activate(ctx context.Context, schemaName string) error { return m.err }

func (m *mockRegistry) Deactivate(ctx context.Context, schemaName string) error { return m.err }

func (m *mockRegistry) Get(ctx context.Context, schemaName string) (*models.ManagedSchema, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s := m.find(schemaName); s != nil {
		return s, nil
	}
	return nil, apperrors.ErrNotRegistered
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
	s := m.find(schemaName)
	return s != nil && s.IsActive, m.err
}

func (m *mockRegistry) RecordSyncSummary(ctx context.Context, schemaName string, tableCount int, rowCount int64, syncedAt time.Time) error {
	return m.err
}

func (m *mockRegistry) MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error {
	return m.err
}

func (m *mockRegistry) TableInventory(ctx context.Context, schemaName string) (*models.SchemaInventory, error) {
	return nil, m.err
}

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
	if m.err != nil {
		return nil, m.err
	}
	for _, st := range m.statuses {
		if st.SchemaName == schemaName && st.TableName == tableName {
			return st, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockTracker) ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.SyncStatus
	for _, st := range m.statuses {
		if st.SchemaName == schemaName {
			out = append(out, st)
		}
	}
	return out, nil
}

type mockPatternService struct {
	patterns    []*models.LearnedPattern
	err         error
	lastType    string
	lastScope   string
	lastLimit   int
	observation *models.PatternObservation
}

func (m *mockPatternService) RecordObservation(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error) {
	m.observation = obs
	if m.err != nil {
		return nil, m.err
	}
	return &models.LearnedPattern{
		PatternType: obs.PatternType,
		SchemaScope: obs.SchemaScope,
		TableScope:  obs.TableScope,
		Payload:     obs.Payload,
		Confidence:  obs.ConfidenceDelta,
		UsageCount:  1,
	}, nil
}

func (m *mockPatternService) TopPatterns(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error) {
	m.lastType, m.lastScope, m.lastLimit = patternType, schemaScope, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.patterns, nil
}

func (m *mockPatternService) InferQueryType(ctx context.Context, text string) (string, error) {
	return services.DefaultQueryType, nil
}

type mockStats struct {
	stats *models.EmbeddingStats
	err   error
}

func (m *mockStats) Stats(ctx context.Context) (*models.EmbeddingStats, error) {
	return m.stats, m.err
}

var (
	_ services.SearchService         = (*mockSearchService)(nil)
	_ services.SchemaRegistryService = (*mockRegistry)(nil)
	_ services.SyncTrackerService    = (*mockTracker)(nil)
	_ services.PatternService        = (*mockPatternService)(nil)
	_ EmbeddingStatsReader           = (*mockStats)(nil)
)

// testDeps returns ToolDeps backed by empty mocks.
func testDeps() *ToolDeps {
	return &ToolDeps{
		Registry: &mockRegistry{},
		Tracker:  &mockTracker{},
		Search:   &mockSearchService{},
		Patterns: &mockPatternService{},
		Version:  "test",
		Logger:   zap.NewNop(),
	}
}

// toolCall is the decoded result of a tools/call round trip.
type toolCall struct {
	Text     string
	IsError  bool
	RPCError *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

// callTool sends a tools/call request through the MCP server.
func callTool(t *testing.T, deps *ToolDeps, name string, args map[string]any) toolCall {
	t.Helper()
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterTools(s, deps)

	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), request))
	require.NoError(t, err)

	var response struct {
		Result *struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	var out toolCall
	out.RPCError = response.Error
	if response.Result != nil {
		out.IsError = response.Result.IsError
		if len(response.Result.Content) > 0 {
			out.Text = response.Result.Content[0].Text
		}
	}
	return out
}

// decodeError decodes a structured tool error.
func decodeError(t *testing.T, call toolCall) ErrorResponse {
	t.Helper()
	require.True(t, call.IsError, "expected a tool error, got %s", call.Text)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(call.Text), &resp))
	return resp
}
