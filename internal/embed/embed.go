// Package embed provides the embedding client used by retrieval and
// memory. It turns text into a fixed-length dense vector via a Genkit
// embedder and enforces the deployment's vector dimension.
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/tanyadata/tanya/internal/cache"
)

// DefaultDimension is the vector length used throughout the system.
// gemini-embedding-001 outputs 3072 dimensions by default; producer and
// consumer must agree or similarity scores are meaningless.
const DefaultDimension = 3072

// Sentinel errors for embedding operations.
var (
	// ErrEmbeddingFailed indicates the provider call failed. The caller
	// must abort the dependent retrieval step; no retry is performed.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch indicates the provider returned a vector of
	// the wrong length. This is a hard error, never a silent truncation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Client turns text into a dense vector of a fixed dimension.
// It is stateless and deterministic modulo the remote provider.
type Client struct {
	embedder  ai.Embedder
	model     string
	dimension int
}

// NewClient creates an embedding client. dimension <= 0 selects
// DefaultDimension.
func NewClient(embedder ai.Embedder, model string, dimension int) *Client {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Client{embedder: embedder, model: model, dimension: dimension}
}

// Dimension returns the configured vector length.
func (c *Client) Dimension() int { return c.dimension }

// Embed generates the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(c.dimension) // #nosec G115 -- dimension validated at config load
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dimension)
	}
	return vec, nil
}

// Embedder is the contract consumed by cached wrappers and the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Cached wraps an Embedder with a content-addressed cache keyed by
// exact text equality (hash of model + text). Cache failures degrade to
// a direct provider call; they never fail the embedding.
type Cached struct {
	inner  Embedder
	cache  cache.Cache
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached creates a caching wrapper around inner.
func NewCached(inner Embedder, c cache.Cache, model string, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: c, model: model, ttl: ttl, logger: logger}
}

// Dimension returns the wrapped embedder's vector length.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Embed returns the cached vector for text, or embeds and caches it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("embed", c.model, text)

	if raw, err := c.cache.Get(ctx, key); err == nil {
		var vec []float32
		if unmarshalErr := json.Unmarshal(raw, &vec); unmarshalErr == nil && len(vec) == c.inner.Dimension() {
			return vec, nil
		}
		// Corrupt or stale-dimension entry: drop it and re-embed.
		_ = c.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("embedding cache read failed", "error", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, marshalErr := json.Marshal(vec); marshalErr == nil {
		if setErr := c.cache.Set(ctx, key, raw, c.ttl); setErr != nil {
			c.logger.Warn("embedding cache write failed", "error", setErr)
		}
	}
	return vec, nil
}
