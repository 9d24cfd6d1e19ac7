// Package llm provides the text-generation client shared by the
// prompt-driven stages, and a caching wrapper so identical prompts are
// answered from the completion cache instead of the provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tanyadata/tanya/internal/cache"
)

// Generator is the contract consumed by the prompt-driven stages.
// Usage is nil when the provider reported none, including completions
// served from cache.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error)
}

// Client generates text with the configured provider model.
type Client struct {
	g     *genkit.Genkit
	model string
}

// NewClient creates a generation client using the given
// provider-qualified model. An empty model selects genkit's default.
func NewClient(g *genkit.Genkit, model string) *Client {
	return &Client{g: g, model: model}
}

// Generate runs one prompt and returns the response text with the
// provider's reported token usage.
func (c *Client) Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error) {
	opts := []ai.GenerateOption{ai.WithPrompt(prompt)}
	if c.model != "" {
		opts = append(opts, ai.WithModelName(c.model))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("text generation: %w", err)
	}
	return resp.Text(), resp.Usage, nil
}

// Cached wraps a Generator with a content-addressed completion cache
// keyed by the hash of model + prompt. Cache failures degrade to a
// direct provider call; they never fail the generation. A cache hit
// reports nil usage because no tokens were spent.
type Cached struct {
	inner  Generator
	cache  cache.Cache
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached creates a caching wrapper around inner.
func NewCached(inner Generator, c cache.Cache, model string, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, cache: c, model: model, ttl: ttl, logger: logger}
}

// Generate returns the cached completion for prompt, or generates and
// caches it.
func (c *Cached) Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error) {
	key := cache.Key("generate", c.model, prompt)

	if raw, err := c.cache.Get(ctx, key); err == nil {
		return string(raw), nil, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("completion cache read failed", "error", err)
	}

	text, usage, err := c.inner.Generate(ctx, prompt)
	if err != nil {
		return "", nil, err
	}

	if setErr := c.cache.Set(ctx, key, []byte(text), c.ttl); setErr != nil {
		c.logger.Warn("completion cache write failed", "error", setErr)
	}
	return text, usage, nil
}
