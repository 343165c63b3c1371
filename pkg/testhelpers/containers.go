package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
)

// PGVectorImage is the PostgreSQL image with the pgvector extension available.
const PGVectorImage = "pgvector/pgvector:pg16"

// EngineDB holds the engine database connection with migrations applied.
// Use this for testing services, repositories and the vector store against a real database.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests.
// The container is created once, migrated, and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PGVectorImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "ekaya_sync_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts postgres once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/ekaya_sync_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: 10,
		})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB := db.OpenSQL()
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// UniqueSchemaName returns a schema name that does not collide between tests.
func UniqueSchemaName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
}

// CreateSourceSchema creates a fresh schema and runs the given DDL statements
// in it. The schema and its engine bookkeeping rows are dropped on cleanup.
func (e *EngineDB) CreateSourceSchema(t *testing.T, schema string, ddl ...string) {
	t.Helper()
	ctx := context.Background()

	quoted := pgx.Identifier{schema}.Sanitize()
	if _, err := e.DB.Exec(ctx, "CREATE SCHEMA "+quoted); err != nil {
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}
	for _, stmt := range ddl {
		if _, err := e.DB.Exec(ctx, fmt.Sprintf("BEGIN; SET LOCAL search_path TO %s, public; %s; COMMIT", quoted, stmt)); err != nil {
			t.Fatalf("Failed to run DDL in %s: %v", schema, err)
		}
	}

	t.Cleanup(func() {
		e.CleanupSchema(t, schema)
		_, _ = e.DB.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE")
	})
}

// CleanupSchema removes every engine row that belongs to schema.
func (e *EngineDB) CleanupSchema(t *testing.T, schema string) {
	t.Helper()
	ctx := context.Background()

	stmts := []string{
		"DELETE FROM engine_embeddings WHERE schema_name = $1",
		"DELETE FROM engine_sync_status WHERE schema_name = $1",
		"DELETE FROM engine_search_logs WHERE schema_name = $1",
		"DELETE FROM engine_change_log WHERE schema_name = $1",
		"DELETE FROM engine_learned_patterns WHERE schema_scope = $1",
		"DELETE FROM engine_managed_schemas WHERE schema_name = $1",
	}
	for _, stmt := range stmts {
		if _, err := e.DB.Exec(ctx, stmt, schema); err != nil {
			t.Logf("cleanup %q failed: %v", stmt, err)
		}
	}
}
