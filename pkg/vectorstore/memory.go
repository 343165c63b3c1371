package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/liliang-cn/sqvect/v2/pkg/index"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// MemoryStore keeps records in process. Ranking scans exactly at or below
// the threshold and uses an HNSW graph above it.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu      sync.RWMutex
	records map[string]*memEntry
	ann     *index.HNSW
	annIDs  map[string]string // graph node key -> record id
	seq     uint64
	deleted int
}

type memEntry struct {
	rec    *models.EmbeddingRecord
	annKey string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{
		opts:    opts,
		now:     time.Now,
		records: make(map[string]*memEntry),
		ann:     index.NewHNSW(opts.HNSWM, opts.HNSWEfConstruction, index.CosineDistance),
		annIDs:  make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Dimension() int {
	return s.opts.Dimension
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *models.EmbeddingRecord) error {
	if err := CheckDimension(s.opts.Dimension, rec.Embedding); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(rec)
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, recs []*models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := CheckDimension(s.opts.Dimension, rec.Embedding); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if err := s.upsertLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) upsertLocked(rec *models.EmbeddingRecord) error {
	now := s.now()
	stored := &models.EmbeddingRecord{
		ID:         rec.ID,
		SchemaName: rec.SchemaName,
		TableName:  rec.TableName,
		Content:    rec.Content,
		Embedding:  append([]float32(nil), rec.Embedding...),
		Metadata:   normalizeMetadata(rec.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if old, ok := s.records[rec.ID]; ok {
		stored.CreatedAt = old.rec.CreatedAt
		s.dropFromGraphLocked(old.annKey)
	}

	// The graph rejects duplicate keys and only soft-deletes, so every
	// version of a record gets its own node.
	s.seq++
	annKey := rec.ID + "#" + strconv.FormatUint(s.seq, 10)
	if err := s.ann.Insert(annKey, stored.Embedding); err != nil {
		return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
	}
	s.annIDs[annKey] = rec.ID
	s.records[rec.ID] = &memEntry{rec: stored, annKey: annKey}

	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) dropFromGraphLocked(annKey string) {
	if annKey == "" {
		return
	}
	_ = s.ann.Delete(annKey)
	delete(s.annIDs, annKey)
	s.deleted++
	if s.deleted > len(s.records) && s.deleted > 64 {
		s.rebuildGraphLocked()
	}
}

// rebuildGraphLocked drops soft-deleted nodes by rebuilding the graph.
func (s *MemoryStore) rebuildGraphLocked() {
	s.ann = index.NewHNSW(s.opts.HNSWM, s.opts.HNSWEfConstruction, index.CosineDistance)
	s.annIDs = make(map[string]string, len(s.records))
	for id, entry := range s.records {
		if entry.annKey == "" {
			continue
		}
		if err := s.ann.Insert(entry.annKey, entry.rec.Embedding); err == nil {
			s.annIDs[entry.annKey] = id
		}
	}
	s.deleted = 0
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.records, id)
	s.dropFromGraphLocked(entry.annKey)
	return nil
}

func (s *MemoryStore) DeleteTable(ctx context.Context, schema, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, entry := range s.records {
		if entry.rec.SchemaName == schema && entry.rec.TableName == table {
			delete(s.records, id)
			s.dropFromGraphLocked(entry.annKey)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	rec := *entry.rec
	return &rec, nil
}

func (s *MemoryStore) RankBySimilarity(ctx context.Context, q RankQuery) ([]models.ScoredRecord, error) {
	if q.Limit <= 0 {
		return []models.ScoredRecord{}, nil
	}
	if err := CheckDimension(s.opts.Dimension, q.Embedding); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var inScope int64
	for _, entry := range s.records {
		if inQueryScope(entry.rec, q) {
			inScope++
		}
	}
	if inScope == 0 {
		return []models.ScoredRecord{}, nil
	}

	if inScope <= s.opts.ExactScanThreshold {
		return s.exactScanLocked(q), nil
	}
	return s.annSearchLocked(ctx, q)
}

func inQueryScope(rec *models.EmbeddingRecord, q RankQuery) bool {
	if rec.SchemaName != q.Schema {
		return false
	}
	return q.Table == "" || rec.TableName == q.Table
}

func (s *MemoryStore) exactScanLocked(q RankQuery) []models.ScoredRecord {
	var scored []models.ScoredRecord
	for _, entry := range s.records {
		if !inQueryScope(entry.rec, q) || !ContainsMetadata(entry.rec.Metadata, q.MetadataFilter) {
			continue
		}
		scored = append(scored, models.ScoredRecord{
			Record:     copyRecord(entry.rec),
			Similarity: 1 - float64(index.CosineDistance(q.Embedding, entry.rec.Embedding)),
		})
	}
	sortScored(scored)
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	return scored
}

// annSearchLocked widens the candidate set until enough records survive the
// scope and metadata filters, falling back to an exact scan once the whole
// graph has been considered.
func (s *MemoryStore) annSearchLocked(ctx context.Context, q RankQuery) ([]models.ScoredRecord, error) {
	size := s.ann.Size()
	k := q.Limit * 4
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if k >= size {
			return s.exactScanLocked(q), nil
		}

		ef := s.opts.HNSWEfSearch
		if ef < k {
			ef = k
		}
		keys, distances := s.ann.Search(q.Embedding, k, ef)

		scored := make([]models.ScoredRecord, 0, q.Limit)
		for i, key := range keys {
			id, ok := s.annIDs[key]
			if !ok {
				continue
			}
			entry := s.records[id]
			if entry == nil || !inQueryScope(entry.rec, q) || !ContainsMetadata(entry.rec.Metadata, q.MetadataFilter) {
				continue
			}
			scored = append(scored, models.ScoredRecord{
				Record:     copyRecord(entry.rec),
				Similarity: 1 - float64(distances[i]),
			})
		}

		if len(scored) >= q.Limit {
			sortScored(scored)
			return scored[:q.Limit], nil
		}
		k *= 2
	}
}

// sortScored orders by similarity descending, then most recently updated.
func sortScored(scored []models.ScoredRecord) {
	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := scored[i].Similarity, scored[j].Similarity
		if math.IsNaN(si) {
			si = -1
		}
		if math.IsNaN(sj) {
			sj = -1
		}
		if si != sj {
			return si > sj
		}
		return scored[i].Record.UpdatedAt.After(scored[j].Record.UpdatedAt)
	})
}

func copyRecord(rec *models.EmbeddingRecord) *models.EmbeddingRecord {
	c := *rec
	return &c
}

func (s *MemoryStore) CountByTable(ctx context.Context, schema string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, entry := range s.records {
		if entry.rec.SchemaName == schema {
			counts[entry.rec.TableName]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*models.EmbeddingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.EmbeddingStats{RecordsByTable: make(map[string]int64)}
	for _, entry := range s.records {
		stats.TotalRecords++
		stats.RecordsByTable[entry.rec.SchemaName+"."+entry.rec.TableName]++
		if isZeroVector(entry.rec.Embedding) {
			stats.ZeroVectors++
		}
		if stats.LastUpdatedAt == nil || entry.rec.UpdatedAt.After(*stats.LastUpdatedAt) {
			t := entry.rec.UpdatedAt
			stats.LastUpdatedAt = &t
		}
	}
	return stats, nil
}

func isZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
