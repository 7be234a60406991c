// Package embed defines the query embedding provider used by the semantic
// result cache. The default provider is a no-op, which makes semantic
// lookups always miss; the static provider gives deterministic vectors
// without an external model.
package embed

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/docsift/docsift/internal/textnorm"
)

// Embedder turns text into a fixed-length vector. A nil vector with a nil
// error means "no embedding available" and is a valid response.
//
// A real provider is a potentially blocking external call: callers must
// pass a context and never hold cache locks across an Embed call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Noop is the default provider: it never produces a vector.
type Noop struct{}

var _ Embedder = Noop{}

func (Noop) Embed(context.Context, string) ([]float32, error) { return nil, nil }
func (Noop) Dimensions() int                                  { return 0 }

// Static hashes normalized character trigrams into a fixed number of
// buckets and L2-normalizes. Near-duplicate queries land on near-identical
// vectors, which is all the semantic cache needs.
type Static struct {
	dims int
}

var _ Embedder = (*Static)(nil)

// NewStatic creates a static embedder; dims must be positive.
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = 64
	}
	return &Static{dims: dims}
}

func (s *Static) Dimensions() int { return s.dims }

func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	norm := textnorm.Normalize(text)
	runes := []rune(norm)
	if len(runes) == 0 {
		return nil, nil
	}

	vec := make([]float32, s.dims)
	gram := func(g string) {
		h := fnv.New32a()
		h.Write([]byte(g))
		vec[int(h.Sum32())%s.dims]++
	}
	for i := range runes {
		end := i + 3
		if end > len(runes) {
			end = len(runes)
		}
		gram(string(runes[i:end]))
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, nil
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
