package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// scopeCountTTL bounds how stale the record count used to pick the exact
// or ANN path may be. The count never decides whether to query at all.
const scopeCountTTL = 10 * time.Second

// maxCachedScopes bounds the scope count cache; table scopes come from
// callers.
const maxCachedScopes = 1024

// PGStore implements Store on the engine_embeddings table using pgvector.
// The embedding column has no fixed dimension; every statement casts to
// vector(Dimension) so the HNSW expression index built by EnsureIndex applies.
type PGStore struct {
	db     *database.DB
	opts   Options
	logger *zap.Logger

	iterativeScan bool

	countMu sync.Mutex
	counts  map[string]scopeCount
}

type scopeCount struct {
	n  int64
	at time.Time
}

// NewPGStore creates a PGStore. Call EnsureIndex once at startup.
func NewPGStore(db *database.DB, opts Options, logger *zap.Logger) *PGStore {
	opts = opts.withDefaults()
	return &PGStore{
		db:            db,
		opts:          opts,
		logger:        logger.Named("pgvector-store"),
		iterativeScan: opts.IterativeScan != "off",
		counts:        make(map[string]scopeCount),
	}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Dimension() int {
	return s.opts.Dimension
}

func (s *PGStore) vectorType() string {
	return "vector(" + strconv.Itoa(s.opts.Dimension) + ")"
}

// IndexName is the HNSW index name for the configured dimension.
func (s *PGStore) IndexName() string {
	return fmt.Sprintf("idx_engine_embeddings_hnsw_%d", s.opts.Dimension)
}

// EnsureIndex creates the HNSW cosine index for the configured dimension and
// disables iterative scans when the installed pgvector predates them.
func (s *PGStore) EnsureIndex(ctx context.Context) error {
	version, err := s.db.VectorExtensionVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("pgvector extension is not installed")
	}
	if s.iterativeScan && !supportsIterativeScan(version) {
		s.logger.Warn("pgvector does not support iterative index scans, filtered ANN queries may return fewer rows",
			zap.String("pgvector_version", version))
		s.iterativeScan = false
	}

	ddl := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON engine_embeddings USING hnsw ((embedding::%s) vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
		pq.QuoteIdentifier(s.IndexName()), s.vectorType(), s.opts.HNSWM, s.opts.HNSWEfConstruction)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create HNSW index: %w", err)
	}

	s.logger.Info("Vector index ready",
		zap.String("index", s.IndexName()),
		zap.Int("dimension", s.opts.Dimension),
		zap.String("pgvector_version", version))
	return nil
}

// supportsIterativeScan reports whether a pgvector version is >= 0.8.
func supportsIterativeScan(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return major > 0 || minor >= 8
}

const upsertSQL = `
	INSERT INTO engine_embeddings (id, schema_name, table_name, content, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5::vector, $6::jsonb)
	ON CONFLICT (id) DO UPDATE SET
		schema_name = EXCLUDED.schema_name,
		table_name = EXCLUDED.table_name,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		updated_at = clock_timestamp()
	RETURNING created_at, updated_at`

func (s *PGStore) Upsert(ctx context.Context, rec *models.EmbeddingRecord) error {
	if err := CheckDimension(s.opts.Dimension, rec.Embedding); err != nil {
		return err
	}
	if err := s.upsert(ctx, s.db.Querier(ctx), rec); err != nil {
		return err
	}
	s.invalidateScope(rec.SchemaName)
	return nil
}

func (s *PGStore) UpsertBatch(ctx context.Context, recs []*models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := CheckDimension(s.opts.Dimension, rec.Embedding); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		q := s.db.Querier(ctx)
		for _, rec := range recs {
			if err := s.upsert(ctx, q, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		s.invalidateScope(rec.SchemaName)
	}
	return nil
}

func (s *PGStore) upsert(ctx context.Context, q database.Querier, rec *models.EmbeddingRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	err = q.QueryRow(ctx, upsertSQL,
		rec.ID,
		rec.SchemaName,
		rec.TableName,
		rec.Content,
		vectorLiteral(rec.Embedding),
		metadataJSON,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	var schema string
	err := s.db.Querier(ctx).QueryRow(ctx,
		`DELETE FROM engine_embeddings WHERE id = $1 RETURNING schema_name`, id).Scan(&schema)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete embedding %s: %w", id, err)
	}
	s.invalidateScope(schema)
	return nil
}

func (s *PGStore) DeleteTable(ctx context.Context, schema, table string) (int64, error) {
	tag, err := s.db.Querier(ctx).Exec(ctx,
		`DELETE FROM engine_embeddings WHERE schema_name = $1 AND table_name = $2`, schema, table)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings for %s.%s: %w", schema, table, err)
	}
	s.invalidateScope(schema)
	return tag.RowsAffected(), nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	query := `
		SELECT id, schema_name, table_name, content, embedding::text, metadata, created_at, updated_at
		FROM engine_embeddings
		WHERE id = $1`

	var rec models.EmbeddingRecord
	var embeddingText string
	var metadataJSON []byte
	err := s.db.Querier(ctx).QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.SchemaName, &rec.TableName, &rec.Content,
		&embeddingText, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding %s: %w", id, err)
	}

	rec.Embedding, err = parseVector(embeddingText)
	if err != nil {
		return nil, err
	}
	rec.Metadata = unmarshalMetadata(metadataJSON)
	return &rec, nil
}

func (s *PGStore) RankBySimilarity(ctx context.Context, q RankQuery) ([]models.ScoredRecord, error) {
	if q.Limit <= 0 {
		return []models.ScoredRecord{}, nil
	}
	if err := CheckDimension(s.opts.Dimension, q.Embedding); err != nil {
		return nil, err
	}

	n, err := s.scopeCount(ctx, q.Schema, q.Table)
	if err != nil {
		return nil, err
	}
	exact := n <= s.opts.ExactScanThreshold

	conditions := []string{"schema_name = $2"}
	args := []any{vectorLiteral(q.Embedding), q.Schema}
	argIdx := 3

	if q.Table != "" {
		conditions = append(conditions, fmt.Sprintf("table_name = $%d", argIdx))
		args = append(args, q.Table)
		argIdx++
	}

	if len(q.MetadataFilter) > 0 {
		filterJSON, err := json.Marshal(q.MetadataFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("metadata @> $%d::jsonb", argIdx))
		args = append(args, filterJSON)
		argIdx++
	}

	// The ANN path orders by distance alone so the HNSW index stays usable;
	// ties are broken in Go afterwards.
	distance := fmt.Sprintf("embedding::%[1]s <=> $1::%[1]s", s.vectorType())
	orderBy := distance
	if exact {
		orderBy = distance + ", updated_at DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, schema_name, table_name, content, metadata, created_at, updated_at,
		       1 - (%s) AS similarity
		FROM engine_embeddings
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, distance, strings.Join(conditions, " AND "), orderBy, argIdx)
	args = append(args, q.Limit)

	var results []models.ScoredRecord
	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		tx := s.db.Querier(ctx)
		if err := s.configureScan(ctx, tx, exact); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to rank embeddings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec models.EmbeddingRecord
			var metadataJSON []byte
			var similarity *float64
			if err := rows.Scan(
				&rec.ID, &rec.SchemaName, &rec.TableName, &rec.Content,
				&metadataJSON, &rec.CreatedAt, &rec.UpdatedAt, &similarity,
			); err != nil {
				return fmt.Errorf("failed to scan ranked embedding: %w", err)
			}
			rec.Metadata = unmarshalMetadata(metadataJSON)

			sim := math.NaN()
			if similarity != nil {
				sim = *similarity
			}
			results = append(results, models.ScoredRecord{Record: &rec, Similarity: sim})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sortScored(results)
	if results == nil {
		results = []models.ScoredRecord{}
	}
	return results, nil
}

// configureScan sets transaction-local planner settings. Exact ranking
// disables index scans so the HNSW index cannot be chosen.
func (s *PGStore) configureScan(ctx context.Context, tx database.Querier, exact bool) error {
	if exact {
		if _, err := tx.Exec(ctx, `SET LOCAL enable_indexscan = off`); err != nil {
			return fmt.Errorf("failed to force exact scan: %w", err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`,
		strconv.Itoa(s.opts.HNSWEfSearch)); err != nil {
		return fmt.Errorf("failed to set hnsw.ef_search: %w", err)
	}
	if s.iterativeScan {
		if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.iterative_scan', $1, true)`,
			s.opts.IterativeScan); err != nil {
			return fmt.Errorf("failed to set hnsw.iterative_scan: %w", err)
		}
	}
	return nil
}

// scopeCount returns the number of records a ranking query would consider,
// cached briefly per scope.
func (s *PGStore) scopeCount(ctx context.Context, schema, table string) (int64, error) {
	key := schema + "\x1f" + table

	s.countMu.Lock()
	cached, ok := s.counts[key]
	s.countMu.Unlock()
	if ok && time.Since(cached.at) < scopeCountTTL {
		return cached.n, nil
	}

	var n int64
	var err error
	if table == "" {
		err = s.db.Querier(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM engine_embeddings WHERE schema_name = $1`, schema).Scan(&n)
	} else {
		err = s.db.Querier(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM engine_embeddings WHERE schema_name = $1 AND table_name = $2`, schema, table).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}

	s.countMu.Lock()
	if _, ok := s.counts[key]; !ok && len(s.counts) >= maxCachedScopes {
		clear(s.counts)
	}
	s.counts[key] = scopeCount{n: n, at: time.Now()}
	s.countMu.Unlock()
	return n, nil
}

// invalidateScope drops cached counts of a schema and all of its tables.
func (s *PGStore) invalidateScope(schema string) {
	prefix := schema + "\x1f"

	s.countMu.Lock()
	defer s.countMu.Unlock()
	for key := range s.counts {
		if strings.HasPrefix(key, prefix) {
			delete(s.counts, key)
		}
	}
}

// cachedScopes reports the number of cached scope counts.
func (s *PGStore) cachedScopes() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return len(s.counts)
}

func (s *PGStore) CountByTable(ctx context.Context, schema string) (map[string]int64, error) {
	rows, err := s.db.Querier(ctx).Query(ctx, `
		SELECT table_name, COUNT(*)
		FROM engine_embeddings
		WHERE schema_name = $1
		GROUP BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings by table: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var table string
		var n int64
		if err := rows.Scan(&table, &n); err != nil {
			return nil, fmt.Errorf("failed to scan embedding count: %w", err)
		}
		counts[table] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embedding counts: %w", err)
	}
	return counts, nil
}

func (s *PGStore) Stats(ctx context.Context) (*models.EmbeddingStats, error) {
	rows, err := s.db.Querier(ctx).Query(ctx, `
		SELECT schema_name || '.' || table_name,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE vector_norm(embedding) = 0),
		       MAX(updated_at)
		FROM engine_embeddings
		GROUP BY schema_name, table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to collect embedding stats: %w", err)
	}
	defer rows.Close()

	stats := &models.EmbeddingStats{RecordsByTable: make(map[string]int64)}
	for rows.Next() {
		var table string
		var total, zero int64
		var last time.Time
		if err := rows.Scan(&table, &total, &zero, &last); err != nil {
			return nil, fmt.Errorf("failed to scan embedding stats: %w", err)
		}
		stats.RecordsByTable[table] = total
		stats.TotalRecords += total
		stats.ZeroVectors += zero
		if stats.LastUpdatedAt == nil || last.After(*stats.LastUpdatedAt) {
			l := last
			stats.LastUpdatedAt = &l
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embedding stats: %w", err)
	}
	return stats, nil
}

// vectorLiteral formats v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses pgvector's text output format.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

func unmarshalMetadata(raw []byte) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
