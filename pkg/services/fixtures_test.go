package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

const testDimension = 64

// testEnv wires every service against in-memory dependencies.
type testEnv struct {
	schemaRepo  *mockManagedSchemaRepo
	syncRepo    *mockSyncStatusRepo
	patternRepo *mockPatternRepo
	logRepo     *mockSearchLogRepo
	catalog     *mockCatalog
	triggers    *mockTriggers
	embedder    embedding.Embedder
	store       *vectorstore.MemoryStore

	registry SchemaRegistryService
	tracker  SyncTrackerService
	patterns PatternService
	engine   HybridSearchEngine
	logs     SearchLogService
	search   SearchService
	ingest   IngestService
	reindex  ReindexService
	analyzer SchemaAnalyzerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	env := &testEnv{
		schemaRepo:  newMockManagedSchemaRepo(),
		patternRepo: &mockPatternRepo{},
		logRepo:     &mockSearchLogRepo{},
		catalog:     newMockCatalog(),
		triggers:    &mockTriggers{},
		embedder:    embedding.NewHashEmbedder(testDimension),
		store:       vectorstore.NewMemoryStore(vectorstore.Options{Dimension: testDimension, ExactScanThreshold: 1000}),
	}
	env.syncRepo = newMockSyncStatusRepo(env.schemaRepo)

	env.registry = NewSchemaRegistryService(env.schemaRepo, env.syncRepo, env.catalog, env.store, logger)
	env.tracker = NewSyncTrackerService(env.syncRepo, env.triggers, &mockTransactor{repo: env.syncRepo}, logger)
	env.patterns = NewPatternService(env.patternRepo, logger)
	env.engine = NewHybridSearchEngine(env.registry, env.embedder, env.store, SearchLimits{Default: 10, Max: 50}, logger)
	env.logs = NewSearchLogService(env.logRepo, logger)
	env.search = NewSearchService(env.engine, env.logs, env.patterns, 0, logger)
	env.ingest = NewIngestService(env.registry, env.tracker, env.catalog, env.embedder, env.store, IngestConfig{BatchSize: 2, MaxWorkers: 2}, logger)
	env.reindex = NewReindexService(env.tracker, env.catalog, env.embedder, env.store, logger)
	env.analyzer = NewSchemaAnalyzerService(env.registry, env.tracker, env.patterns, env.catalog, logger)
	return env
}

// registerActive registers and activates a schema.
func (env *testEnv) registerActive(t *testing.T, schemaName string) {
	t.Helper()
	ctx := context.Background()
	_, err := env.registry.Register(ctx, &models.RegisterSchemaRequest{SchemaName: schemaName})
	require.NoError(t, err)
	require.NoError(t, env.registry.Activate(ctx, schemaName))
}

var productColumns = []models.CatalogColumn{
	{ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
	{ColumnName: "name", DataType: "text", OrdinalPosition: 2},
	{ColumnName: "category", DataType: "text", OrdinalPosition: 3},
	{ColumnName: "price", DataType: "numeric(10,2)", OrdinalPosition: 4},
}

// addShop adds shop.products with three rows, numbers decoded as json.Number
// like rows read from the database.
func (env *testEnv) addShop() {
	env.catalog.addTable("shop", "products", productColumns,
		models.Row{"id": json.Number("1"), "name": "Wireless Mouse", "category": "electronics", "price": json.Number("19.99")},
		models.Row{"id": json.Number("2"), "name": "Mechanical Keyboard", "category": "electronics", "price": json.Number("89.00")},
		models.Row{"id": json.Number("3"), "name": "Coffee Mug", "category": "kitchen", "price": json.Number("7.50")},
	)
}

func productID(id string) string {
	return vectorstore.RecordID("shop", "products", []any{json.Number(id)})
}
