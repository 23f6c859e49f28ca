// Package embedder provides embedding clients for the vector index.
// The broker treats the model as an external collaborator: anything
// satisfying Embedder plugs in.
package embedder

import "context"

// Embedder converts text into a dense vector.
type Embedder interface {
	// Embed computes the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector size this embedder produces.
	Dimension() int
}

// Config selects and configures an embedder implementation.
type Config struct {
	// Provider: "ollama", "openai" or "hash" (deterministic, offline).
	Provider string `json:"provider"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// APIKey authenticates against hosted providers.
	APIKey string `json:"api_key,omitempty"`

	// Model name (provider-specific default applies when empty).
	Model string `json:"model,omitempty"`

	// Dimension of produced vectors (provider default when zero).
	Dimension int `json:"dimension,omitempty"`

	// RequestsPerSecond throttles embedding calls; 0 disables the limit.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// New constructs the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "hash":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, errUnknownProvider(cfg.Provider)
	}
}
