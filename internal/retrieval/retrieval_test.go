package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tanyadata/tanya/internal/log"
	"github.com/tanyadata/tanya/internal/rerank"
)

// id returns a uuid whose string form sorts by n, for tie-break tests.
func id(n byte) uuid.UUID {
	var u uuid.UUID
	u[0] = n
	return u
}

func TestBlendMonotonicity(t *testing.T) {
	// Increasing a candidate's vector score while holding lexical fixed
	// must never decrease its combined score.
	base := []Candidate{
		{DocumentID: id(1), VectorScore: 0.50, LexicalScore: 0.2},
		{DocumentID: id(2), VectorScore: 0.90, LexicalScore: 0.1},
		{DocumentID: id(3), VectorScore: 0.30, LexicalScore: 0.4},
	}
	for _, alpha := range []float64{0, 0.25, 0.5, 0.75, 1} {
		prev := -1.0
		for _, v := range []float64{0.50, 0.60, 0.70, 0.85} {
			cands := make([]Candidate, len(base))
			copy(cands, base)
			cands[0].VectorScore = v

			blended := Blend(cands, alpha, 0, 0)
			var got float64
			found := false
			for _, c := range blended {
				if c.DocumentID == id(1) {
					got = c.CombinedScore
					found = true
				}
			}
			if !found {
				t.Fatalf("alpha=%v v=%v: candidate dropped", alpha, v)
			}
			if got < prev {
				t.Errorf("alpha=%v: combined score decreased from %v to %v when vector rose to %v",
					alpha, prev, got, v)
			}
			prev = got
		}
	}
}

func TestBlendUnionEligibility(t *testing.T) {
	// A lexical-only hit qualifies even below the vector floor.
	raw := []Candidate{
		{DocumentID: id(1), VectorScore: 0.9, LexicalScore: 0},
		{DocumentID: id(2), VectorScore: 0.1, LexicalScore: 0.7}, // below floor, lexical hit
		{DocumentID: id(3), VectorScore: 0.1, LexicalScore: 0},   // below floor, no lexical
	}

	blended := Blend(raw, 0.5, 0.5, 0)
	if len(blended) != 2 {
		t.Fatalf("got %d candidates, want 2 (union of legs)", len(blended))
	}
	for _, c := range blended {
		if c.DocumentID == id(3) {
			t.Error("candidate failing both legs must be excluded")
		}
	}
}

func TestBlendTieBreakByID(t *testing.T) {
	// Identical scores: stable order by document id ascending.
	raw := []Candidate{
		{DocumentID: id(9), VectorScore: 0.8, LexicalScore: 0.3},
		{DocumentID: id(2), VectorScore: 0.8, LexicalScore: 0.3},
		{DocumentID: id(5), VectorScore: 0.8, LexicalScore: 0.3},
	}

	blended := Blend(raw, 0.5, 0, 0)
	for i, want := range []uuid.UUID{id(2), id(5), id(9)} {
		if blended[i].DocumentID != want {
			t.Errorf("position %d: got %v, want %v", i, blended[i].DocumentID, want)
		}
	}
}

func TestBlendNormalizesIncomparableScales(t *testing.T) {
	// Lexical ranks are tiny compared to cosine similarities; without
	// rescaling the lexical leg would be drowned. With alpha=0 the
	// ranking must follow the lexical leg alone.
	raw := []Candidate{
		{DocumentID: id(1), VectorScore: 0.99, LexicalScore: 0.001},
		{DocumentID: id(2), VectorScore: 0.10, LexicalScore: 0.009},
	}

	blended := Blend(raw, 0, 0, 0)
	if blended[0].DocumentID != id(2) {
		t.Error("with alpha=0 the lexical leg must dominate regardless of raw scale")
	}
}

func TestBlendCapsTopK(t *testing.T) {
	raw := make([]Candidate, 10)
	for i := range raw {
		raw[i] = Candidate{DocumentID: id(byte(i + 1)), VectorScore: float64(i) / 10}
	}
	if got := Blend(raw, 1, 0, 3); len(got) != 3 {
		t.Errorf("got %d candidates, want topK=3", len(got))
	}
}

// fakeStore returns canned candidates.
type fakeStore struct {
	candidates []Candidate
	err        error
}

func (f *fakeStore) FetchCandidates(context.Context, string, []float32, string, Corpus, float64) ([]Candidate, error) {
	return f.candidates, f.err
}

// failingReranker always errors.
type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []rerank.Document, int) ([]rerank.Document, error) {
	return nil, errors.New("rerank provider down")
}

// reversingReranker returns docs in reverse order with fixed scores.
type reversingReranker struct{}

func (reversingReranker) Rerank(_ context.Context, _ string, docs []rerank.Document, _ int) ([]rerank.Document, error) {
	out := make([]rerank.Document, len(docs))
	for i, d := range docs {
		d.Score = float64(i)
		out[len(docs)-1-i] = d
	}
	return out, nil
}

func TestRetrieveRerankerFailureFallsBack(t *testing.T) {
	store := &fakeStore{candidates: []Candidate{
		{DocumentID: id(1), VectorScore: 0.9},
		{DocumentID: id(2), VectorScore: 0.7},
	}}
	r := New(store, failingReranker{}, log.NewNop())

	got, err := r.Retrieve(context.Background(), "p", "q", nil, CorpusSchema, 0, 5, 1, 2)
	if err != nil {
		t.Fatalf("reranker failure must not fail retrieval: %v", err)
	}
	if got[0].DocumentID != id(1) || got[1].DocumentID != id(2) {
		t.Error("pre-rerank order must stand when the reranker fails")
	}
}

func TestRetrieveRerankReordersTopSlice(t *testing.T) {
	store := &fakeStore{candidates: []Candidate{
		{DocumentID: id(1), VectorScore: 0.9},
		{DocumentID: id(2), VectorScore: 0.7},
		{DocumentID: id(3), VectorScore: 0.5},
	}}
	r := New(store, reversingReranker{}, log.NewNop())

	got, err := r.Retrieve(context.Background(), "p", "q", nil, CorpusSchema, 0, 5, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Top 2 reversed, third untouched.
	if got[0].DocumentID != id(2) || got[1].DocumentID != id(1) || got[2].DocumentID != id(3) {
		t.Errorf("unexpected order: %v %v %v", got[0].DocumentID, got[1].DocumentID, got[2].DocumentID)
	}
	if got[0].RerankScore == nil {
		t.Error("reranked candidates must carry their rerank score")
	}
	if got[2].RerankScore != nil {
		t.Error("candidates outside the rerank slice must not carry a rerank score")
	}
}

func TestRetrieveStoreErrorPropagates(t *testing.T) {
	r := New(&fakeStore{err: errors.New("db down")}, nil, log.NewNop())
	if _, err := r.Retrieve(context.Background(), "p", "q", nil, CorpusSchema, 0, 5, 1, 0); err == nil {
		t.Fatal("store errors must propagate")
	}
}
