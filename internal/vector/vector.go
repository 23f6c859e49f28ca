// Package vector adapts the broker's messages to a vector index. The
// relational row is the source of truth; everything here is rebuildable
// from it with Resync.
package vector

import (
	"context"

	"github.com/nextlevelbuilder/agentmesh/internal/filter"
)

// Point is one indexed message: its relational id, its embedding, and a
// flat payload used for metadata prefiltering.
type Point struct {
	ID      int64
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result: the message id and its cosine similarity.
type Hit struct {
	ID    int64
	Score float32
}

// Index is the vector backend. Implementations compile the filter AST to
// their native predicate form; a nil filter matches everything.
type Index interface {
	Upsert(ctx context.Context, points ...Point) error
	Search(ctx context.Context, vec []float32, f filter.Node, limit int) ([]Hit, error)
	Delete(ctx context.Context, ids ...int64) error
	Count(ctx context.Context) (uint64, error)
	IDs(ctx context.Context) ([]int64, error)
	Close() error
}

// Config selects and configures the index backend.
type Config struct {
	// Provider: "qdrant", "memory", or "" (vector search disabled).
	Provider string `json:"provider"`

	// Host and Port of the Qdrant gRPC endpoint.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// APIKey authenticates against hosted Qdrant.
	APIKey string `json:"api_key,omitempty"`

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `json:"use_tls,omitempty"`

	// Collection name; defaults to "agentmesh_messages".
	Collection string `json:"collection,omitempty"`

	// Dimension of stored vectors. Must match the embedder.
	Dimension int `json:"dimension,omitempty"`

	// MetadataKeys is the subset of message metadata copied into the
	// point payload for prefiltering.
	MetadataKeys []string `json:"metadata_keys,omitempty"`
}

// New constructs the index named by cfg.Provider. A disabled provider
// returns (nil, nil); callers treat a nil Index as "no semantic search".
func New(cfg Config) (Index, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "memory":
		return NewMemory(), nil
	case "qdrant":
		return NewQdrant(cfg)
	default:
		return nil, errUnknownBackend(cfg.Provider)
	}
}
