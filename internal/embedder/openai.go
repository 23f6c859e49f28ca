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
	defaultOpenAIURL       = "https://api.openai.com/v1"
	defaultOpenAIModel     = "text-embedding-3-small"
	defaultOpenAIDimension = 1536
)

// OpenAI implements Embedder against the OpenAI embeddings API (and any
// compatible endpoint via BaseURL).
type OpenAI struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewOpenAI creates an OpenAI embedder with defaults filled in.
func NewOpenAI(cfg Config) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = defaultOpenAIDimension
	}

	return &OpenAI{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		dimension: dimension,
		limiter:   newLimiter(cfg.RequestsPerSecond),
	}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, store.InvalidArgumentf("cannot embed empty text")
	}
	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, err
	}

	body, err := json.Marshal(openAIRequest{Model: o.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, store.Unavailablef("openai embed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, store.Unavailablef("openai embed: status %d: %s", resp.StatusCode, msg)
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, store.Unavailablef("openai embed: empty embedding")
	}
	return out.Data[0].Embedding, nil
}

func (o *OpenAI) Dimension() int { return o.dimension }
