package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/tanyadata/tanya/internal/history"
	"github.com/tanyadata/tanya/internal/log"
	"github.com/tanyadata/tanya/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAnswerer struct {
	resp  *pipeline.Response
	err   error
	panic bool
}

func (f fakeAnswerer) Answer(context.Context, pipeline.Request) (*pipeline.Response, error) {
	if f.panic {
		panic("boom")
	}
	return f.resp, f.err
}

type fakeTurns struct {
	turns []history.ChatTurn
	err   error
}

func (f fakeTurns) Recent(context.Context, string, string, int) ([]history.ChatTurn, error) {
	return f.turns, f.err
}

func newTestServer(t *testing.T, a answerer) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Logger: log.NewNop(), Pipeline: a, RateBurst: 100})
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func validBody() string {
	return `{"userId":"u1","projectId":"p1","projectSchema":"proj_p1","question":"How many projects in Bandung?"}`
}

func postQuery(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestQueryOK(t *testing.T) {
	sql := `SELECT count(*) FROM "projects"`
	srv, err := NewServer(ServerConfig{
		Logger: log.NewNop(),
		Pipeline: fakeAnswerer{resp: &pipeline.Response{
			Answer:     "There are 3 projects.",
			SQLQuery:   &sql,
			ResultData: []map[string]any{{"count": float64(3)}},
			SearchStats: pipeline.SearchStats{
				SchemaDocuments:     1,
				ContextDocuments:    1,
				TotalDocumentsFound: 2,
				MinCosineThreshold:  0.35,
				TopK:                5,
			},
			State: pipeline.StateSummarized,
		}},
		History: fakeTurns{turns: []history.ChatTurn{
			{Role: history.RoleUser, Content: "How many projects in Bandung?"},
			{Role: history.RoleAssistant, Content: "There are 3 projects."},
		}},
		RateBurst: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := postQuery(srv, validBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("success flag must be set on a conversational answer")
	}
	if resp.Query != "How many projects in Bandung?" {
		t.Errorf("query not echoed: %q", resp.Query)
	}
	if resp.Answer != "There are 3 projects." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SQLQuery == nil || *resp.SQLQuery != sql {
		t.Error("sql query missing from response")
	}
	if len(resp.Data) != 1 {
		t.Errorf("got %d data rows, want 1", len(resp.Data))
	}
	if len(resp.ChatHistory) != 2 {
		t.Errorf("got %d chat turns, want 2", len(resp.ChatHistory))
	}
	if resp.SearchStats.TotalDocumentsFound != 2 ||
		resp.SearchStats.MinCosineThreshold != 0.35 ||
		resp.SearchStats.TopK != 5 {
		t.Errorf("search stats not carried through: %+v", resp.SearchStats)
	}
}

func TestQueryAcceptsChatHistoryField(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	body := `{"userId":"u1","projectId":"p1","projectSchema":"proj_p1","question":"q","chatHistory":[{"role":"user","content":"earlier"}]}`
	rec := postQuery(srv, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s: chatHistory must be accepted", rec.Code, rec.Body)
	}
}

func TestQueryHistoryFetchFailureDegrades(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Pipeline:  fakeAnswerer{resp: &pipeline.Response{Answer: "ok"}},
		History:   fakeTurns{err: context.DeadlineExceeded},
		RateBurst: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := postQuery(srv, validBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, history failure must not fail the answer", rec.Code)
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ChatHistory == nil || len(resp.ChatHistory) != 0 {
		t.Errorf("chatHistory = %v, want empty array", resp.ChatHistory)
	}
	if resp.Data == nil {
		t.Error("data must serialize as an empty array, not null")
	}
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	tests := []struct {
		name string
		body string
	}{
		{"missing question", `{"userId":"u","projectId":"p","projectSchema":"s"}`},
		{"min cosine above one", `{"userId":"u","projectId":"p","projectSchema":"s","question":"q","minCosine":1.5}`},
		{"top k zero", `{"userId":"u","projectId":"p","projectSchema":"s","question":"q","topK":0}`},
		{"top k too large", `{"userId":"u","projectId":"p","projectSchema":"s","question":"q","topK":50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postQuery(srv, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error != "validation failed" || len(resp.Details) == 0 {
				t.Errorf("body = %s", rec.Body)
			}
		})
	}
}

func TestQueryMalformedJSON(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	rec := postQuery(srv, `{"userId": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueryUnknownFieldRejected(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	rec := postQuery(srv, `{"userId":"u","projectId":"p","projectSchema":"s","question":"q","bogus":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueryPipelineError(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{err: context.DeadlineExceeded})

	rec := postQuery(srv, validBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Details) != 0 {
		t.Error("internal errors must not leak details")
	}
}

func TestRecoveryFromPanic(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{panic: true})

	rec := postQuery(srv, validBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyWithoutPool(t *testing.T) {
	srv := newTestServer(t, fakeAnswerer{resp: &pipeline.Response{}})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Pipeline:  fakeAnswerer{resp: &pipeline.Response{}},
		RateBurst: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	first := postQuery(srv, validBody())
	if first.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", first.Code)
	}
	second := postQuery(srv, validBody())
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Real-IP", "203.0.113.9")

	if got := clientIP(req, false); got != "10.0.0.1" {
		t.Errorf("untrusted proxy: got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted proxy: got %q", got)
	}

	req.Header.Set("X-Real-IP", "not-an-ip")
	if got := clientIP(req, true); got != "10.0.0.1" {
		t.Errorf("invalid header must fall back to RemoteAddr, got %q", got)
	}
}
