package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

func TestHybridSearchTool_PassesQuery(t *testing.T) {
	search := &mockSearchService{resp: &models.SearchResponse{
		Hits:      []models.SearchHit{{ID: "r1", Table: "products", Content: "name: Wireless Mouse", Similarity: 0.91}},
		QueryType: "product_lookup",
		LatencyMs: 12,
	}}
	deps := testDeps()
	deps.Search = search

	call := callTool(t, deps, "hybrid_search", map[string]any{
		"query":           "  wireless mouse ",
		"schema":          "shop",
		"table":           "products",
		"limit":           5,
		"metadata_filter": map[string]any{"category": "electronics"},
		"session_id":      "conv-1",
	})
	require.False(t, call.IsError, call.Text)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(call.Text), &resp))
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "r1", resp.Hits[0].ID)
	assert.Equal(t, "product_lookup", resp.QueryType)

	req := search.lastReq
	require.NotNil(t, req)
	assert.Equal(t, "wireless mouse", req.Text)
	assert.Equal(t, "shop", req.Schema)
	assert.Equal(t, "products", req.Table)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, map[string]any{"category": "electronics"}, req.MetadataFilter)
	assert.Equal(t, "conv-1", req.SessionID)
}

func TestHybridSearchTool_PassesEmbedding(t *testing.T) {
	search := &mockSearchService{}
	deps := testDeps()
	deps.Search = search

	call := callTool(t, deps, "hybrid_search", map[string]any{
		"schema":    "shop",
		"embedding": []any{0.5, -0.25, 0},
		"limit":     2,
	})
	require.False(t, call.IsError, call.Text)

	req := search.lastReq
	require.NotNil(t, req)
	assert.Empty(t, req.Text)
	assert.Equal(t, []float32{0.5, -0.25, 0}, req.Embedding)
	assert.Equal(t, 2, req.Limit)
}

func TestHybridSearchTool_LimitHandling(t *testing.T) {
	t.Run("omitted limit uses default", func(t *testing.T) {
		search := &mockSearchService{}
		deps := testDeps()
		deps.Search = search

		call := callTool(t, deps, "hybrid_search", map[string]any{"query": "mug", "schema": "shop"})
		require.False(t, call.IsError, call.Text)
		assert.Equal(t, 10, search.lastReq.Limit)
		assert.Contains(t, call.Text, `"hits":[]`)
	})

	t.Run("explicit zero is kept", func(t *testing.T) {
		search := &mockSearchService{}
		deps := testDeps()
		deps.Search = search

		callTool(t, deps, "hybrid_search", map[string]any{"query": "mug", "schema": "shop", "limit": 0})
		assert.Equal(t, 0, search.lastReq.Limit)
	})

	t.Run("negative limit rejected before searching", func(t *testing.T) {
		search := &mockSearchService{}
		deps := testDeps()
		deps.Search = search

		call := callTool(t, deps, "hybrid_search", map[string]any{"query": "mug", "schema": "shop", "limit": -3})
		assert.Equal(t, "invalid_parameters", decodeError(t, call).Code)
		assert.Nil(t, search.lastReq)
	})
}

func TestHybridSearchTool_InvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query and embedding", map[string]any{"schema": "shop"}},
		{"embedding not an array", map[string]any{"schema": "shop", "embedding": "0.1,0.2"}},
		{"embedding with non-number", map[string]any{"schema": "shop", "embedding": []any{0.1, "x"}}},
		{"blank query", map[string]any{"query": "   ", "schema": "shop"}},
		{"missing schema", map[string]any{"query": "mug"}},
		{"fractional limit", map[string]any{"query": "mug", "schema": "shop", "limit": 1.5}},
		{"filter not an object", map[string]any{"query": "mug", "schema": "shop", "metadata_filter": "[1]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := callTool(t, testDeps(), "hybrid_search", tt.args)
			assert.Equal(t, "invalid_parameters", decodeError(t, call).Code)
		})
	}
}

func TestHybridSearchTool_ServiceErrors(t *testing.T) {
	deps := testDeps()
	deps.Search = &mockSearchService{err: fmt.Errorf("rank: %w", apperrors.ErrDimensionMismatch)}

	call := callTool(t, deps, "hybrid_search", map[string]any{"query": "mug", "schema": "shop"})
	assert.Equal(t, "dimension_mismatch", decodeError(t, call).Code)

	deps.Search = &mockSearchService{err: errors.New("pool closed")}
	call = callTool(t, deps, "hybrid_search", map[string]any{"query": "mug", "schema": "shop"})
	require.NotNil(t, call.RPCError, "server failures surface as protocol errors")
	assert.Contains(t, call.RPCError.Message, "pool closed")
}
