package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tanyadata/tanya/internal/log"
)

func testDocs() []Document {
	return []Document{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
		{ID: "c", Text: "third"},
	}
}

func TestDisabledClientIsIdentity(t *testing.T) {
	c := New(Config{Logger: log.NewNop()}) // no base URL, no key

	got, err := c.Rerank(context.Background(), "q", testDocs(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d docs, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %q, want %q (input order)", i, got[i].ID, want)
		}
		if got[i].Score != 0 {
			t.Errorf("disabled rerank must assign score 0, got %v", got[i].Score)
		}
	}
}

func TestRerankSortsByScore(t *testing.T) {
	scores := map[string]float64{"first": 0.1, "second": 0.9, "third": 0.5}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(scoreResponse{Score: scores[req.Text]})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 1000, Logger: log.NewNop()})

	got, err := c.Rerank(context.Background(), "q", testDocs(), 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"b", "c", "a"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestRerankSingleFailureContinues(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req scoreRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "second" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Score: 0.5})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 1000, Logger: log.NewNop()})

	got, err := c.Rerank(context.Background(), "q", testDocs(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("one failure must not abort the batch: %d calls, want 3", calls)
	}
	// The failed document sinks below the scored ones.
	if got[2].ID != "b" {
		t.Errorf("failed doc should rank last, got order %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRerankAuthFailureShortCircuits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "bad", RequestsPerSecond: 1000, Logger: log.NewNop()})

	got, err := c.Rerank(context.Background(), "q", testDocs(), 3)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if calls != 1 {
		t.Errorf("auth failure must short-circuit remaining calls: %d calls, want 1", calls)
	}
	// Sentinel scores decrease, preserving original relative order.
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, want)
		}
	}
	if !(got[0].Score > got[1].Score && got[1].Score > got[2].Score) {
		t.Errorf("sentinel scores must be strictly decreasing: %v, %v, %v",
			got[0].Score, got[1].Score, got[2].Score)
	}
}

func TestRerankTopNLimitsCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(scoreResponse{Score: 0.5})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 1000, Logger: log.NewNop()})

	if _, err := c.Rerank(context.Background(), "q", testDocs(), 2); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("topN=2 should score 2 docs, scored %d", calls)
	}
}
