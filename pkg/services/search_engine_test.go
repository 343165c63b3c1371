package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// putRecord embeds content and stores it directly.
func putRecord(t *testing.T, env *testEnv, schema, table, id, content string, meta map[string]any) {
	t.Helper()
	vec, err := embedding.EmbedOne(context.Background(), env.embedder, content)
	require.NoError(t, err)
	require.NoError(t, env.store.Upsert(context.Background(), &models.EmbeddingRecord{
		ID:         id,
		SchemaName: schema,
		TableName:  table,
		Content:    content,
		Embedding:  vec,
		Metadata:   meta,
	}))
}

func TestHybridSearch_SelfSimilarity(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	putRecord(t, env, "shop", "products", "p1", "ergonomic wireless mouse", nil)
	putRecord(t, env, "shop", "products", "p2", "stainless steel coffee mug", nil)

	hits, err := env.engine.Search(context.Background(), models.SearchQuery{
		Text: "ergonomic wireless mouse", Schema: "shop", Limit: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, 0.0)
		assert.LessOrEqual(t, h.Similarity, 1.0)
	}
}

func TestHybridSearch_LimitSemantics(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	for i := range 60 {
		putRecord(t, env, "shop", "products", fmt.Sprintf("p%d", i), fmt.Sprintf("product number %d", i), nil)
	}
	ctx := context.Background()

	hits, err := env.engine.Search(ctx, models.SearchQuery{Text: "product", Schema: "shop", Limit: 0})
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	hits, err = env.engine.Search(ctx, models.SearchQuery{Text: "product", Schema: "shop", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}

	hits, err = env.engine.Search(ctx, models.SearchQuery{Text: "product", Schema: "shop", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, hits, 50, "limit is capped at the configured maximum")

	_, err = env.engine.Search(ctx, models.SearchQuery{Text: "product", Schema: "shop", Limit: -1})
	assert.Error(t, err)
}

func TestHybridSearch_MetadataContainment(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	putRecord(t, env, "shop", "products", "p1", "wireless mouse", map[string]any{"category": "electronics", "stock": 4})
	putRecord(t, env, "shop", "products", "p2", "wireless charger", map[string]any{"category": "electronics", "stock": 0})
	putRecord(t, env, "shop", "products", "p3", "wireless speaker", map[string]any{"category": "audio"})
	ctx := context.Background()

	hits, err := env.engine.Search(ctx, models.SearchQuery{
		Text: "wireless", Schema: "shop", Limit: 10,
		MetadataFilter: map[string]any{"category": "electronics"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "electronics", h.Metadata["category"])
	}

	hits, err = env.engine.Search(ctx, models.SearchQuery{
		Text: "wireless", Schema: "shop", Limit: 10,
		MetadataFilter: map[string]any{"category": "electronics", "stock": 4},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ID)

	hits, err = env.engine.Search(ctx, models.SearchQuery{
		Text: "wireless", Schema: "shop", Limit: 10,
		MetadataFilter: map[string]any{"category": "garden"},
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHybridSearch_TableScope(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	putRecord(t, env, "shop", "products", "p1", "blue widget", nil)
	putRecord(t, env, "shop", "reviews", "r1", "blue widget works great", nil)

	hits, err := env.engine.Search(context.Background(), models.SearchQuery{
		Text: "blue widget", Schema: "shop", Table: "reviews", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "reviews", hits[0].Table)
}

func TestHybridSearch_InactiveOrUnregisteredSchema(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	putRecord(t, env, "shop", "products", "p1", "wireless mouse", nil)

	hits, err := env.engine.Search(ctx, models.SearchQuery{Text: "wireless mouse", Schema: "shop", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits, "unregistered schema")

	_, err = env.registry.Register(ctx, &models.RegisterSchemaRequest{SchemaName: "shop"})
	require.NoError(t, err)
	hits, err = env.engine.Search(ctx, models.SearchQuery{Text: "wireless mouse", Schema: "shop", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits, "registered but inactive schema")

	require.NoError(t, env.registry.Activate(ctx, "shop"))
	hits, err = env.engine.Search(ctx, models.SearchQuery{Text: "wireless mouse", Schema: "shop", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestHybridSearch_SchemasAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	env.registerActive(t, "hr")
	putRecord(t, env, "shop", "products", "p1", "annual report binder", nil)
	putRecord(t, env, "hr", "documents", "d1", "annual report", nil)

	hits, err := env.engine.Search(context.Background(), models.SearchQuery{Text: "annual report", Schema: "shop", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ID)
}

func TestHybridSearch_DimensionMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	engine := NewHybridSearchEngine(env.registry, embedding.NewHashEmbedder(testDimension*2), env.store, SearchLimits{}, zap.NewNop())

	_, err := engine.Search(context.Background(), models.SearchQuery{Text: "mouse", Schema: "shop", Limit: 5})
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
}

// unavailableEmbedder fails every call, like an embedding API that is down.
type unavailableEmbedder struct{ dim int }

func (e unavailableEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}
func (e unavailableEmbedder) Dimension() int { return e.dim }
func (e unavailableEmbedder) Model() string  { return "unavailable" }

func TestHybridSearch_PrecomputedEmbedding(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	putRecord(t, env, "shop", "products", "p1", "ergonomic wireless mouse", nil)
	putRecord(t, env, "shop", "products", "p2", "stainless steel coffee mug", nil)

	vec, err := embedding.EmbedOne(context.Background(), env.embedder, "stainless steel coffee mug")
	require.NoError(t, err)

	engine := NewHybridSearchEngine(env.registry, unavailableEmbedder{dim: testDimension}, env.store, SearchLimits{}, zap.NewNop())
	hits, err := engine.Search(context.Background(), models.SearchQuery{Embedding: vec, Schema: "shop", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "p2", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)

	// The embedding wins over the text, which is never embedded.
	hits, err = engine.Search(context.Background(), models.SearchQuery{Text: "mouse", Embedding: vec, Schema: "shop", Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p2", hits[0].ID)
}

func TestHybridSearch_PrecomputedEmbeddingDimensionMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")

	_, err := env.engine.Search(context.Background(), models.SearchQuery{
		Embedding: make([]float32, testDimension+1), Schema: "shop", Limit: 5,
	})
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
}

func TestHybridSearch_RequiresQueryAndSchema(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Search(context.Background(), models.SearchQuery{Text: "  ", Schema: "shop", Limit: 5})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = env.engine.Search(context.Background(), models.SearchQuery{Text: "mouse", Limit: 5})
	assert.Error(t, err)
}

type failingStore struct {
	vectorstore.Store
}

func (failingStore) RankBySimilarity(ctx context.Context, q vectorstore.RankQuery) ([]models.ScoredRecord, error) {
	return nil, errors.New("relation engine_embeddings does not exist")
}

func TestHybridSearch_StorageFaultPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.registerActive(t, "shop")
	engine := NewHybridSearchEngine(env.registry, env.embedder, failingStore{env.store}, SearchLimits{}, zap.NewNop())

	_, err := engine.Search(context.Background(), models.SearchQuery{Text: "mouse", Schema: "shop", Limit: 5})
	assert.Error(t, err)
}

func TestClampSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, clampSimilarity(-0.3))
	assert.Equal(t, 1.0, clampSimilarity(1.0000002))
	assert.Equal(t, 0.0, clampSimilarity(math.NaN()))
	assert.Equal(t, 0.42, clampSimilarity(0.42))
}

func TestSearchLimits_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   SearchLimits
		want SearchLimits
	}{
		{"zero", SearchLimits{}, SearchLimits{Default: 10, Max: 100}},
		{"default only", SearchLimits{Default: 5}, SearchLimits{Default: 5, Max: 100}},
		{"explicit", SearchLimits{Default: 20, Max: 50}, SearchLimits{Default: 20, Max: 50}},
		{"max below default", SearchLimits{Default: 200, Max: 50}, SearchLimits{Default: 200, Max: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewHybridSearchEngine(nil, nil, nil, tt.in, zap.NewNop())
			assert.Equal(t, tt.want, engine.Limits())
		})
	}
}
