// Package retrieval implements hybrid document retrieval: dense vector
// similarity blended with lexical full-text rank over the project's
// document corpora, with an optional cross-encoder rerank pass.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/tanyadata/tanya/internal/rerank"
)

// Corpus selects which document corpus to search.
type Corpus string

const (
	// CorpusSchema holds table and column description documents used to
	// ground SQL synthesis.
	CorpusSchema Corpus = "schema"

	// CorpusDocuments holds object-derived documents (papers, files).
	CorpusDocuments Corpus = "documents"
)

// SourceTypes returns the document source types belonging to the corpus.
func (c Corpus) SourceTypes() []string {
	if c == CorpusSchema {
		return []string{"table", "column"}
	}
	return []string{"paper", "file"}
}

// Candidate is one retrieval result with its per-leg and blended scores.
type Candidate struct {
	DocumentID    uuid.UUID `json:"documentId"`
	Text          string    `json:"text"`
	VectorScore   float64   `json:"vectorScore"`
	LexicalScore  float64   `json:"lexicalScore"`
	CombinedScore float64   `json:"combinedScore"`
	RerankScore   *float64  `json:"rerankScore,omitempty"`
}

// DocStore fetches raw hybrid candidates for a corpus. Implemented by
// Store; faked in tests.
type DocStore interface {
	FetchCandidates(ctx context.Context, projectID string, embedding []float32, query string, corpus Corpus, minVectorScore float64) ([]Candidate, error)
}

// Reranker reorders the top slice of candidates. Implemented by
// rerank.Client.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []rerank.Document, topN int) ([]rerank.Document, error)
}

// Retriever runs the hybrid retrieve-blend-rerank sequence.
type Retriever struct {
	store    DocStore
	reranker Reranker // nil = reranking disabled
	logger   *slog.Logger
}

// New creates a Retriever. reranker may be nil to disable reranking.
func New(store DocStore, reranker Reranker, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, reranker: reranker, logger: logger}
}

// Retrieve returns at most topK candidates sorted descending by
// combined score, optionally reordered by the reranker. Reranker
// unavailability never fails retrieval: the pre-rerank order stands.
func (r *Retriever) Retrieve(ctx context.Context, projectID, query string, embedding []float32, corpus Corpus, minVectorScore float64, topK int, alpha float64, rerankTopN int) ([]Candidate, error) {
	raw, err := r.store.FetchCandidates(ctx, projectID, embedding, query, corpus, minVectorScore)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}

	candidates := Blend(raw, alpha, minVectorScore, topK)
	if len(candidates) == 0 || r.reranker == nil || rerankTopN <= 0 {
		return candidates, nil
	}

	return r.applyRerank(ctx, query, candidates, rerankTopN), nil
}

// applyRerank reorders the top min(rerankTopN, n) candidates by
// cross-encoder score. Any reranker failure falls back to the
// pre-rerank order.
func (r *Retriever) applyRerank(ctx context.Context, query string, candidates []Candidate, topN int) []Candidate {
	if topN > len(candidates) {
		topN = len(candidates)
	}

	docs := make([]rerank.Document, topN)
	byID := make(map[string]int, topN)
	for i := 0; i < topN; i++ {
		id := candidates[i].DocumentID.String()
		docs[i] = rerank.Document{ID: id, Text: candidates[i].Text}
		byID[id] = i
	}

	scored, err := r.reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		r.logger.Warn("rerank pass failed, keeping hybrid order", "error", err)
		return candidates
	}

	reordered := make([]Candidate, 0, len(candidates))
	for _, d := range scored {
		idx, ok := byID[d.ID]
		if !ok {
			continue
		}
		c := candidates[idx]
		score := d.Score
		c.RerankScore = &score
		reordered = append(reordered, c)
	}
	if len(reordered) != topN {
		// Reranker dropped or invented documents; distrust the pass.
		r.logger.Warn("rerank returned unexpected document set, keeping hybrid order")
		return candidates
	}

	return append(reordered, candidates[topN:]...)
}

// Blend applies union eligibility, rescales each scoring leg to [0, 1]
// and combines them as alpha*vector + (1-alpha)*lexical. Results are
// sorted descending by combined score with ties broken by document id
// ascending, capped at topK.
//
// Eligibility is the union of the two legs: a document that clears the
// lexical leg qualifies even when it misses the vector floor, so
// retrieval still works for documents whose embeddings were never
// backfilled.
func Blend(raw []Candidate, alpha, minVectorScore float64, topK int) []Candidate {
	eligible := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		if c.VectorScore >= minVectorScore || c.LexicalScore > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Raw vector similarity and full-text rank live on incomparable
	// scales; rescale both before blending.
	vNorm := minMax(eligible, func(c Candidate) float64 { return c.VectorScore })
	lNorm := minMax(eligible, func(c Candidate) float64 { return c.LexicalScore })

	for i := range eligible {
		eligible[i].CombinedScore = alpha*vNorm[i] + (1-alpha)*lNorm[i]
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		if eligible[a].CombinedScore != eligible[b].CombinedScore {
			return eligible[a].CombinedScore > eligible[b].CombinedScore
		}
		return eligible[a].DocumentID.String() < eligible[b].DocumentID.String()
	})

	if topK > 0 && len(eligible) > topK {
		eligible = eligible[:topK]
	}
	return eligible
}

// minMax rescales one scoring leg to [0, 1]. A degenerate leg (all
// values equal) maps to 1 when positive, 0 otherwise, so a uniformly
// useful leg still contributes and a uniformly empty one does not.
func minMax(cs []Candidate, score func(Candidate) float64) []float64 {
	lo, hi := score(cs[0]), score(cs[0])
	for _, c := range cs[1:] {
		s := score(c)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	out := make([]float64, len(cs))
	if hi == lo {
		if hi > 0 {
			for i := range out {
				out[i] = 1
			}
		}
		return out
	}
	for i, c := range cs {
		out[i] = (score(c) - lo) / (hi - lo)
	}
	return out
}
