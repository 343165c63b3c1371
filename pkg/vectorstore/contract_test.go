package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

const contractDim = 4

// storeFactory returns an empty-for-this-schema Store with the given exact
// scan threshold.
type storeFactory func(t *testing.T, threshold int64) Store

func record(schema, table, id string, vec []float32, metadata map[string]any) *models.EmbeddingRecord {
	return &models.EmbeddingRecord{
		ID:         id,
		SchemaName: schema,
		TableName:  table,
		Content:    "content of " + id,
		Embedding:  vec,
		Metadata:   metadata,
	}
}

func ids(scored []models.ScoredRecord) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Record.ID
	}
	return out
}

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, schemaPrefix string, newStore storeFactory) {
	for _, threshold := range []int64{1000, 0} {
		mode := "exact"
		if threshold == 0 {
			mode = "ann"
		}

		t.Run(mode+"/SelfSimilarityIsOne", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_self_%s", schemaPrefix, mode)

			vec := []float32{0.1, 0.7, 0.2, 0.4}
			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":a", vec, nil)))
			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":b", []float32{0.9, 0.1, 0, 0}, nil)))

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Limit: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, schema+":a", got[0].Record.ID)
			assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
		})

		t.Run(mode+"/RankSeesRecordsAddedAfterEmptyResult", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_fresh_%s", schemaPrefix, mode)
			vec := []float32{0.3, 0.3, 0.9, 0}

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Limit: 5})
			require.NoError(t, err)
			assert.Empty(t, got)
			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Table: "t", Limit: 5})
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":a", vec, nil)))

			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Limit: 5})
			require.NoError(t, err)
			assert.Equal(t, []string{schema + ":a"}, ids(got))
			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Table: "t", Limit: 5})
			require.NoError(t, err)
			assert.Equal(t, []string{schema + ":a"}, ids(got))

			require.NoError(t, store.Delete(ctx, schema+":a"))
			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Limit: 5})
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run(mode+"/UpsertIsIdempotent", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_idem_%s", schemaPrefix, mode)

			rec := record(schema, "t", schema+":a", []float32{1, 0, 0, 0}, map[string]any{"k": "v"})
			require.NoError(t, store.Upsert(ctx, rec))
			first, err := store.Get(ctx, rec.ID)
			require.NoError(t, err)

			time.Sleep(5 * time.Millisecond)
			rec2 := record(schema, "t", schema+":a", []float32{1, 0, 0, 0}, map[string]any{"k": "v"})
			require.NoError(t, store.Upsert(ctx, rec2))

			counts, err := store.CountByTable(ctx, schema)
			require.NoError(t, err)
			assert.Equal(t, int64(1), counts["t"])

			second, err := store.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, first.Content, second.Content)
			assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "created_at preserved on overwrite")
		})

		t.Run(mode+"/OverwriteReplacesContent", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_over_%s", schemaPrefix, mode)

			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":a", []float32{1, 0, 0, 0}, nil)))
			updated := record(schema, "t", schema+":a", []float32{0, 1, 0, 0}, map[string]any{"price": 10})
			updated.Content = "updated"
			require.NoError(t, store.Upsert(ctx, updated))

			got, err := store.Get(ctx, schema+":a")
			require.NoError(t, err)
			assert.Equal(t, "updated", got.Content)
			assert.InDeltaSlice(t, []float32{0, 1, 0, 0}, got.Embedding, 1e-6)
			assert.EqualValues(t, 10, got.Metadata["price"])

			ranked, err := store.RankBySimilarity(ctx, RankQuery{Embedding: []float32{0, 1, 0, 0}, Schema: schema, Limit: 5})
			require.NoError(t, err)
			require.Len(t, ranked, 1)
			assert.InDelta(t, 1.0, ranked[0].Similarity, 1e-5)
		})

		t.Run(mode+"/DimensionMismatch", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_dim_%s", schemaPrefix, mode)

			err := store.Upsert(ctx, record(schema, "t", schema+":a", []float32{1, 0}, nil))
			assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)

			_, err = store.RankBySimilarity(ctx, RankQuery{Embedding: []float32{1, 0, 0}, Schema: schema, Limit: 1})
			assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)

			_, err = store.Get(ctx, schema+":a")
			assert.ErrorIs(t, err, apperrors.ErrNotFound, "rejected record must not be written")
		})

		t.Run(mode+"/LimitSemantics", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_limit_%s", schemaPrefix, mode)

			for i := 0; i < 5; i++ {
				vec := []float32{1, float32(i) * 0.1, 0, 0}
				require.NoError(t, store.Upsert(ctx, record(schema, "t", fmt.Sprintf("%s:%d", schema, i), vec, nil)))
			}
			query := []float32{1, 0, 0, 0}

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: query, Schema: schema, Limit: 3})
			require.NoError(t, err)
			assert.Len(t, got, 3)
			for i := 1; i < len(got); i++ {
				assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity, "results ordered by similarity")
			}
			assert.Equal(t, schema+":0", got[0].Record.ID)

			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: query, Schema: schema, Limit: 0})
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: query, Schema: schema, Limit: 50})
			require.NoError(t, err)
			assert.Len(t, got, 5)
		})

		t.Run(mode+"/ScopeAndMetadataFilter", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_filter_%s", schemaPrefix, mode)
			other := schema + "_other"

			require.NoError(t, store.Upsert(ctx, record(schema, "products", schema+":p1", []float32{1, 0, 0, 0}, map[string]any{"category": "Electronics"})))
			require.NoError(t, store.Upsert(ctx, record(schema, "products", schema+":p2", []float32{1, 0.1, 0, 0}, map[string]any{"category": "Books"})))
			require.NoError(t, store.Upsert(ctx, record(schema, "orders", schema+":o1", []float32{1, 0, 0.1, 0}, map[string]any{"category": "Electronics"})))
			require.NoError(t, store.Upsert(ctx, record(other, "products", other+":p1", []float32{1, 0, 0, 0}, map[string]any{"category": "Electronics"})))

			query := []float32{1, 0, 0, 0}

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: query, Schema: schema, Limit: 10})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{schema + ":p1", schema + ":p2", schema + ":o1"}, ids(got))

			got, err = store.RankBySimilarity(ctx, RankQuery{Embedding: query, Schema: schema, Table: "products", Limit: 10})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{schema + ":p1", schema + ":p2"}, ids(got))

			got, err = store.RankBySimilarity(ctx, RankQuery{
				Embedding:      query,
				Schema:         schema,
				MetadataFilter: map[string]any{"category": "Electronics"},
				Limit:          10,
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{schema + ":p1", schema + ":o1"}, ids(got))

			got, err = store.RankBySimilarity(ctx, RankQuery{
				Embedding:      query,
				Schema:         schema,
				MetadataFilter: map[string]any{"category": "Garden"},
				Limit:          10,
			})
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run(mode+"/TiesPreferRecentlyUpdated", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_ties_%s", schemaPrefix, mode)

			vec := []float32{0, 0, 1, 0}
			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":old", vec, nil)))
			time.Sleep(10 * time.Millisecond)
			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":new", vec, nil)))

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: vec, Schema: schema, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{schema + ":new", schema + ":old"}, ids(got))
		})

		t.Run(mode+"/Delete", func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, threshold)
			schema := fmt.Sprintf("%s_del_%s", schemaPrefix, mode)

			require.NoError(t, store.Delete(ctx, schema+":missing"), "deleting a missing record is a no-op")

			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":a", []float32{1, 0, 0, 0}, nil)))
			require.NoError(t, store.Upsert(ctx, record(schema, "t", schema+":b", []float32{0, 1, 0, 0}, nil)))
			require.NoError(t, store.Delete(ctx, schema+":a"))

			_, err := store.Get(ctx, schema+":a")
			assert.ErrorIs(t, err, apperrors.ErrNotFound)

			got, err := store.RankBySimilarity(ctx, RankQuery{Embedding: []float32{1, 0, 0, 0}, Schema: schema, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, []string{schema + ":b"}, ids(got))

			n, err := store.DeleteTable(ctx, schema, "t")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}
