package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultHashDimension = 64

// Hash is a deterministic, offline embedder: token hashes are folded into
// a fixed-size bag-of-words vector, L2-normalized. It carries no semantic
// signal beyond token overlap; it exists so the broker runs (and tests
// run) without a model endpoint.
type Hash struct {
	dimension int
}

// NewHash creates a hash embedder. dimension <= 0 uses the default.
func NewHash(dimension int) *Hash {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &Hash{dimension: dimension}
}

func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(token))
		vec[int(f.Sum32())%h.dimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (h *Hash) Dimension() int { return h.dimension }
