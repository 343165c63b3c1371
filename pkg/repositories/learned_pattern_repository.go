package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// LearnedPatternRepository provides data access for learned patterns.
type LearnedPatternRepository interface {
	// Observe inserts the pattern or reinforces an equivalent one (same type,
	// scope and payload) in a single statement.
	Observe(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error)
	// Top returns the highest-confidence patterns of a type. A non-empty
	// schemaScope also includes global patterns; an empty one returns only
	// global patterns.
	Top(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error)
}

type learnedPatternRepository struct {
	db *database.DB
}

// NewLearnedPatternRepository creates a LearnedPatternRepository.
func NewLearnedPatternRepository(db *database.DB) LearnedPatternRepository {
	return &learnedPatternRepository{db: db}
}

var _ LearnedPatternRepository = (*learnedPatternRepository)(nil)

const learnedPatternColumns = `
	id, pattern_type, schema_scope, table_scope, payload,
	confidence, usage_count, last_used_at, created_at, updated_at`

func (r *learnedPatternRepository) Observe(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error) {
	payloadJSON, err := marshalJSONB(obs.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pattern payload: %w", err)
	}

	query := `
		INSERT INTO engine_learned_patterns (
			pattern_type, schema_scope, table_scope, payload,
			confidence, usage_count, last_used_at
		) VALUES ($1, $2, $3, $4, LEAST(GREATEST($5::float8, 0), 1), 1, now())
		ON CONFLICT ON CONSTRAINT uq_engine_learned_patterns_identity DO UPDATE SET
			confidence = LEAST(GREATEST(engine_learned_patterns.confidence + $5::float8, 0), 1),
			usage_count = engine_learned_patterns.usage_count + 1,
			last_used_at = now(),
			updated_at = now()
		RETURNING ` + learnedPatternColumns

	p, err := scanLearnedPattern(r.db.Querier(ctx).QueryRow(ctx, query,
		obs.PatternType, obs.SchemaScope, obs.TableScope, payloadJSON, obs.ConfidenceDelta))
	if err != nil {
		return nil, fmt.Errorf("failed to record pattern observation: %w", err)
	}
	return p, nil
}

func (r *learnedPatternRepository) Top(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error) {
	query := `SELECT ` + learnedPatternColumns + `
		FROM engine_learned_patterns
		WHERE pattern_type = $1
		  AND schema_scope IN ($2, '')
		ORDER BY confidence DESC, usage_count DESC, last_used_at DESC NULLS LAST, id
		LIMIT $3`

	rows, err := r.db.Querier(ctx).Query(ctx, query, patternType, schemaScope, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*models.LearnedPattern
	for rows.Next() {
		p, err := scanLearnedPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}
	return patterns, nil
}

func scanLearnedPattern(row pgx.Row) (*models.LearnedPattern, error) {
	var p models.LearnedPattern
	var payloadJSON []byte
	err := row.Scan(
		&p.ID, &p.PatternType, &p.SchemaScope, &p.TableScope, &payloadJSON,
		&p.Confidence, &p.UsageCount, &p.LastUsedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	unmarshalJSONB(payloadJSON, &p.Payload)
	return &p, nil
}
