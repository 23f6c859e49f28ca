package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

const (
	defaultOllamaURL       = "http://localhost:11434"
	defaultOllamaModel     = "nomic-embed-text"
	defaultOllamaDimension = 768
)

// Ollama implements Embedder against Ollama's embeddings API.
type Ollama struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewOllama creates an Ollama embedder with defaults filled in.
func NewOllama(cfg Config) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = defaultOllamaDimension
	}

	return &Ollama{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		limiter:   newLimiter(cfg.RequestsPerSecond),
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, store.InvalidArgumentf("cannot embed empty text")
	}
	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, store.Unavailablef("ollama embed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, store.Unavailablef("ollama embed: status %d: %s", resp.StatusCode, msg)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, store.Unavailablef("ollama embed: empty embedding")
	}
	return out.Embedding, nil
}

func (o *Ollama) Dimension() int { return o.dimension }

func errUnknownProvider(name string) error {
	return store.InvalidArgumentf("unknown embedder provider %q", name)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
