package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/minio/highwayhash"
)

var featureKey = []byte("ekaya-sync/feature-hash/v1-00000")

// HashEmbedder is a deterministic, offline embedder using signed feature
// hashing of lowercase word tokens. Texts sharing words get similar vectors.
// It needs no network and is used for local development and tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

var _ Embedder = (*HashEmbedder)(nil)

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Model() string { return "feature-hash" }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dim)
	for _, tok := range Tokenize(text) {
		sum := highwayhash.Sum64([]byte(tok), featureKey)
		idx := int(sum % uint64(h.dim))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[idx] += sign
	}

	// A constant bias keeps empty and stopword-only texts non-degenerate.
	for i := range v {
		v[i] += 0.01
	}

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
