// Package vectorstore persists embedding records and ranks them by cosine
// similarity to a query vector. PGStore is backed by pgvector; MemoryStore is
// an in-process implementation with the same contract.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// Store is the vector store contract shared by all backends.
type Store interface {
	// Upsert inserts rec or overwrites the record with the same ID.
	Upsert(ctx context.Context, rec *models.EmbeddingRecord) error
	// UpsertBatch upserts all records atomically where the backend allows it.
	UpsertBatch(ctx context.Context, recs []*models.EmbeddingRecord) error
	// Delete removes a record. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteTable removes every record of one table.
	DeleteTable(ctx context.Context, schema, table string) (int64, error)
	// Get returns a record or apperrors.ErrNotFound.
	Get(ctx context.Context, id string) (*models.EmbeddingRecord, error)
	// RankBySimilarity returns at most q.Limit records of q.Schema (and q.Table
	// when set) whose metadata contains q.MetadataFilter, most similar first.
	RankBySimilarity(ctx context.Context, q RankQuery) ([]models.ScoredRecord, error)
	// CountByTable returns record counts per table of a schema.
	CountByTable(ctx context.Context, schema string) (map[string]int64, error)
	Stats(ctx context.Context) (*models.EmbeddingStats, error)
	Dimension() int
}

// RankQuery selects and ranks records.
type RankQuery struct {
	Embedding      []float32
	Schema         string
	Table          string
	MetadataFilter map[string]any
	Limit          int
}

// Options configures a Store.
type Options struct {
	Dimension int
	// ExactScanThreshold is the in-scope record count at or below which
	// ranking uses an exact scan instead of the ANN index.
	ExactScanThreshold int64
	HNSWM              int
	HNSWEfConstruction int
	HNSWEfSearch       int
	// IterativeScan is passed to hnsw.iterative_scan (pgvector >= 0.8).
	IterativeScan string
}

func (o Options) withDefaults() Options {
	if o.HNSWM <= 0 {
		o.HNSWM = 16
	}
	if o.HNSWEfConstruction <= 0 {
		o.HNSWEfConstruction = 64
	}
	if o.HNSWEfSearch <= 0 {
		o.HNSWEfSearch = 100
	}
	if o.IterativeScan == "" {
		o.IterativeScan = "off"
	}
	return o
}

// CheckDimension returns apperrors.ErrDimensionMismatch unless len(v) == dim.
func CheckDimension(dim int, v []float32) error {
	if len(v) != dim {
		return fmt.Errorf("%w: expected %d, got %d", apperrors.ErrDimensionMismatch, dim, len(v))
	}
	return nil
}
