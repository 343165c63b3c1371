package embedding

import (
	"context"
	"sync"

	"github.com/minio/highwayhash"
)

var cacheKey = []byte("ekaya-sync/embedding-cache/v1-00")

// CachingEmbedder memoizes embeddings by content hash. Re-indexing rows whose
// rendered content did not change skips the provider call.
type CachingEmbedder struct {
	next    Embedder
	maxSize int

	mu    sync.Mutex
	items map[uint64][]float32
	order []uint64
}

// NewCachingEmbedder wraps next with a FIFO cache of at most maxSize entries.
func NewCachingEmbedder(next Embedder, maxSize int) *CachingEmbedder {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CachingEmbedder{
		next:    next,
		maxSize: maxSize,
		items:   make(map[uint64][]float32, maxSize),
	}
}

var _ Embedder = (*CachingEmbedder)(nil)

func (c *CachingEmbedder) Dimension() int { return c.next.Dimension() }

func (c *CachingEmbedder) Model() string { return c.next.Model() }

func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var missTexts []string
	var missIdx []int

	c.mu.Lock()
	for i, text := range texts {
		keys[i] = highwayhash.Sum64([]byte(text), cacheKey)
		if v, ok := c.items[keys[i]]; ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.putLocked(keys[i], vecs[j])
	}
	return out, nil
}

func (c *CachingEmbedder) putLocked(key uint64, v []float32) {
	if _, ok := c.items[key]; ok {
		return
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = v
	c.order = append(c.order, key)
}

// Len returns the number of cached embeddings.
func (c *CachingEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
