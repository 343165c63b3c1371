// Package embedding turns source rows into text and text into vectors.
package embedding

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
)

// Embedder produces one embedding per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// minNonZeroFraction is the share of components that must be non-zero for a
// vector to be accepted. Providers occasionally return degenerate vectors.
const minNonZeroFraction = 0.1

// Validate checks that v has the expected dimension and is not degenerate.
func Validate(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: expected %d, got %d", apperrors.ErrDimensionMismatch, dim, len(v))
	}
	nonZero := 0
	for _, f := range v {
		if f != 0 {
			nonZero++
		}
	}
	if float64(nonZero) <= float64(len(v))*minNonZeroFraction {
		return fmt.Errorf("%w: only %d of %d components are non-zero", apperrors.ErrInvalidEmbedding, nonZero, len(v))
	}
	return nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
