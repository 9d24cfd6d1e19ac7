// Package rerank provides a cross-encoder reranking client. Given a
// query and candidate documents it scores each (query, document) pair
// against a remote scoring endpoint and returns the documents sorted by
// relevance.
//
// The client degrades deliberately: a single document's scoring failure
// gets a sentinel low score and the batch continues, while an
// authentication failure short-circuits the remaining documents —
// a provider that rejected one credentialed call will reject them all.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// ErrAuth indicates the scoring endpoint rejected the credential.
var ErrAuth = errors.New("reranker authentication failed")

// sentinelBase is the score assigned to documents whose scoring call
// failed. Successive failures get decreasing scores so the original
// relative order is preserved below all successfully scored documents.
const sentinelBase = -1000.0

// Document is a rerank candidate and result. Score is meaningful only
// on results.
type Document struct {
	ID    string
	Text  string
	Score float64
}

// Client scores (query, document) pairs against a cross-encoder REST
// endpoint. The zero value is a disabled client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Config holds reranker client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// RequestsPerSecond caps outbound scoring calls. Zero uses a
	// conservative default of 10 rps with a burst of 20.
	RequestsPerSecond float64

	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a reranker client. An empty BaseURL or APIKey yields a
// disabled client whose Rerank is the identity ordering with score 0.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return &Client{logger: logger}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 20),
		logger:  logger,
	}
}

// Enabled reports whether the client will call the scoring endpoint.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Rerank scores the first topN documents and returns all of them sorted
// descending by score. When the client is disabled the input order is
// returned with score 0 for every document.
func (c *Client) Rerank(ctx context.Context, query string, docs []Document, topN int) ([]Document, error) {
	out := make([]Document, len(docs))
	copy(out, docs)
	for i := range out {
		out[i].Score = 0
	}

	if !c.Enabled() || len(out) == 0 {
		return out, nil
	}

	if topN <= 0 || topN > len(out) {
		topN = len(out)
	}

	authFailed := false
	for i := 0; i < topN; i++ {
		if authFailed {
			// Remaining documents get decreasing sentinel scores rather
			// than wasted calls against a rejecting provider.
			out[i].Score = sentinelBase - float64(i)
			continue
		}

		score, err := c.score(ctx, query, out[i].Text)
		switch {
		case errors.Is(err, ErrAuth):
			c.logger.Warn("reranker auth failed, short-circuiting batch", "scored", i)
			authFailed = true
			out[i].Score = sentinelBase - float64(i)
		case err != nil:
			c.logger.Warn("rerank scoring failed", "doc_id", out[i].ID, "error", err)
			out[i].Score = sentinelBase - float64(i)
		default:
			out[i].Score = score
		}
	}

	sort.SliceStable(out[:topN], func(a, b int) bool {
		return out[a].Score > out[b].Score
	})

	if authFailed {
		return out, ErrAuth
	}
	return out, nil
}

// scoreRequest and scoreResponse are the wire contract with the
// cross-encoder scoring endpoint.
type scoreRequest struct {
	Model string `json:"model,omitempty"`
	Query string `json:"query"`
	Text  string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// score performs one (query, document) scoring call.
func (c *Client) score(ctx context.Context, query, text string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(scoreRequest{Model: c.model, Query: query, Text: text})
	if err != nil {
		return 0, fmt.Errorf("encoding score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, ErrAuth
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("score endpoint returned %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("decoding score response: %w", err)
	}
	return sr.Score, nil
}
