// Package pipeline orchestrates one question through normalization,
// embedding, hybrid retrieval, SQL synthesis, sandboxed execution and
// summarization. Every question produces a well-formed answer and
// exactly one user/assistant turn pair in the history, including when
// a required stage fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tanyadata/tanya/internal/history"
	"github.com/tanyadata/tanya/internal/memory"
	"github.com/tanyadata/tanya/internal/normalize"
	"github.com/tanyadata/tanya/internal/retrieval"
	"github.com/tanyadata/tanya/internal/sandbox"
	"github.com/tanyadata/tanya/internal/summarize"
)

// State is how far a question got through the pipeline.
type State string

const (
	StateNormalized      State = "normalized"
	StateUnlocatable     State = "unlocatable"
	StateEmbedded        State = "embedded"
	StateRetrieved       State = "retrieved"
	StateNoSchemaMatch   State = "no_schema_match"
	StateSQLSynthesized  State = "sql_synthesized"
	StateSQLEmpty        State = "sql_empty"
	StateExecuted        State = "executed"
	StateExecutionFailed State = "execution_failed"
	StateSummarized      State = "summarized"
	StateFailed          State = "failed"
)

// Stage interfaces. Each is the narrow slice of a component the
// orchestrator needs; production wiring passes the real packages.
type (
	normalizer interface {
		Normalize(ctx context.Context, question string, districtHints []string) (string, error)
	}
	embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}
	retriever interface {
		Retrieve(ctx context.Context, projectID, query string, embedding []float32, corpus retrieval.Corpus, minVectorScore float64, topK int, alpha float64, rerankTopN int) ([]retrieval.Candidate, error)
	}
	synthesizer interface {
		Synthesize(ctx context.Context, query string, schemaDocs []retrieval.Candidate) (string, error)
	}
	executor interface {
		Execute(ctx context.Context, sql, projectSchema string) ([]sandbox.Row, error)
	}
	summarizer interface {
		Summarize(ctx context.Context, question string, ev summarize.Evidence) (string, summarize.TokenUsage, error)
	}
	historyStore interface {
		AppendPair(ctx context.Context, userID, projectID string, user, assistant history.ChatTurn) error
	}
	memoryStore interface {
		RetrieveSemantic(ctx context.Context, userID, projectID, query string, limit int) []memory.Memory
		LogProcedure(ctx context.Context, userID, projectID, description string) error
	}
)

// Settings are the retrieval knobs, normally taken from configuration
// and overridable per request.
type Settings struct {
	Alpha      float64 // vector weight in hybrid blending
	MinCosine  float64 // vector eligibility floor
	TopK       int     // final candidate count
	RerankTopN int     // candidates sent to the reranker, 0 disables
}

// Request is one question to answer.
type Request struct {
	UserID        string
	ProjectID     string
	ProjectSchema string
	Question      string
	DistrictHints []string

	// Optional per-request overrides.
	MinCosine *float64
	TopK      *int
}

// SearchStats describes what retrieval did for one question, including
// the effective knobs after per-request overrides.
type SearchStats struct {
	NormalizedQuery     string  `json:"normalizedQuery"`
	SchemaDocuments     int     `json:"schemaDocuments"`
	ContextDocuments    int     `json:"contextDocuments"`
	TotalDocumentsFound int     `json:"totalDocumentsFound"`
	MinCosineThreshold  float64 `json:"minCosineThreshold"`
	TopK                int     `json:"topK"`
	ElapsedMS           int64   `json:"elapsedMs"`
}

// Response is the assembled answer for one question.
type Response struct {
	Answer            string                `json:"answer"`
	SQLQuery          *string               `json:"sqlQuery"`
	RelevantDocuments []retrieval.Candidate `json:"relevantDocuments"`
	ResultData        []map[string]any      `json:"resultData,omitempty"`
	SearchStats       SearchStats           `json:"searchStats"`
	Usage             summarize.TokenUsage  `json:"usage"`
	State             State                 `json:"state"`
}

// Pipeline answers questions. All stage dependencies are required
// except memories, which may be nil.
type Pipeline struct {
	normalizer  normalizer
	embedder    embedder
	retriever   retriever
	synthesizer synthesizer
	executor    executor
	summarizer  summarizer
	turns       historyStore
	memories    memoryStore
	settings    Settings
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(n normalizer, e embedder, r retriever, syn synthesizer, ex executor, sum summarizer, turns historyStore, mem memoryStore, settings Settings, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		normalizer:  n,
		embedder:    e,
		retriever:   r,
		synthesizer: syn,
		executor:    ex,
		summarizer:  sum,
		turns:       turns,
		memories:    mem,
		settings:    settings,
		logger:      logger,
	}
}

// Fixed answers for stages that cannot proceed, keyed by language.
var (
	unlocatableAnswers = map[string]string{
		"en": "I could not tell which location your question is about. Please name a district or province.",
		"id": "Saya tidak dapat menentukan lokasi yang dimaksud dalam pertanyaan Anda. Sebutkan kabupaten, kota, atau provinsi.",
	}
	noSchemaAnswers = map[string]string{
		"en": "I could not find any relevant schema information for this question.",
		"id": "Saya tidak menemukan informasi skema yang relevan untuk pertanyaan ini.",
	}
	processingAnswers = map[string]string{
		"en": "Something went wrong while processing your question. Please try again.",
		"id": "Terjadi kesalahan saat memproses pertanyaan Anda. Silakan coba lagi.",
	}
	executionAnswers = map[string]string{
		"en": "The generated query could not be executed against the project data.",
		"id": "Kueri yang dihasilkan tidak dapat dijalankan pada data proyek.",
	}
)

// Answer runs the full pipeline for one question. The returned
// response is always well formed; stage failures become answers, not
// errors. The only returned errors are context cancellation.
func (p *Pipeline) Answer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	lang := summarize.DetectLanguage(req.Question)

	settings := p.settings
	if req.MinCosine != nil {
		settings.MinCosine = *req.MinCosine
	}
	if req.TopK != nil {
		settings.TopK = *req.TopK
	}

	resp := p.run(ctx, req, settings, lang)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	resp.SearchStats.ElapsedMS = time.Since(start).Milliseconds()

	p.persist(ctx, req, resp)
	return resp, nil
}

// run executes the stages up to summarization and assembles the
// response. Persistence happens in Answer so every path shares it.
func (p *Pipeline) run(ctx context.Context, req Request, settings Settings, lang string) *Response {
	resp := &Response{RelevantDocuments: []retrieval.Candidate{}}
	resp.SearchStats.MinCosineThreshold = settings.MinCosine
	resp.SearchStats.TopK = settings.TopK

	// Normalization grounds the question in canonical geography.
	normalized, err := p.normalizer.Normalize(ctx, req.Question, req.DistrictHints)
	if err != nil {
		if errors.Is(err, normalize.ErrUnlocatable) {
			resp.State = StateUnlocatable
			resp.Answer = unlocatableAnswers[lang]
			return resp
		}
		p.logger.Error("normalization failed", "error", err)
		resp.State = StateFailed
		resp.Answer = processingAnswers[lang]
		return resp
	}
	resp.SearchStats.NormalizedQuery = normalized

	embedding, err := p.embedder.Embed(ctx, normalized)
	if err != nil {
		p.logger.Error("query embedding failed", "error", err)
		resp.State = StateFailed
		resp.Answer = processingAnswers[lang]
		return resp
	}

	schemaDocs, err := p.retriever.Retrieve(ctx, req.ProjectID, normalized, embedding,
		retrieval.CorpusSchema, settings.MinCosine, settings.TopK, settings.Alpha, settings.RerankTopN)
	if err != nil {
		p.logger.Error("schema retrieval failed", "error", err)
		resp.State = StateFailed
		resp.Answer = processingAnswers[lang]
		return resp
	}
	resp.SearchStats.SchemaDocuments = len(schemaDocs)

	// Context documents and memories only enrich the answer; their
	// failures never block it.
	contextDocs := p.contextDocuments(ctx, req, normalized, embedding, settings)
	resp.SearchStats.ContextDocuments = len(contextDocs)
	resp.SearchStats.TotalDocumentsFound = len(schemaDocs) + len(contextDocs)

	if len(schemaDocs) == 0 {
		resp.State = StateNoSchemaMatch
		resp.Answer = noSchemaAnswers[lang]
		return resp
	}
	resp.RelevantDocuments = schemaDocs

	sql, err := p.synthesizer.Synthesize(ctx, normalized, schemaDocs)
	if err != nil {
		p.logger.Error("sql synthesis failed", "error", err)
		resp.State = StateFailed
		resp.Answer = processingAnswers[lang]
		return resp
	}

	if sql == "" {
		// Nothing to execute; answer from document context alone.
		resp.State = StateSQLEmpty
		p.summarizeInto(ctx, resp, req, summarize.Evidence{Snippets: p.snippets(ctx, contextDocs, req, normalized)}, lang)
		return resp
	}
	resp.SQLQuery = &sql

	rows, err := p.executor.Execute(ctx, sql, req.ProjectSchema)
	if err != nil {
		detail := err
		var execErr *sandbox.ExecutionError
		if errors.As(err, &execErr) {
			detail = execErr.Err
		}
		p.logger.Warn("sandbox execution failed", "error", detail)
		resp.State = StateExecutionFailed
		// The captured database message becomes part of the turn
		// content so the user sees what went wrong.
		resp.Answer = fmt.Sprintf("%s (%s)", executionAnswers[lang], detail)
		return resp
	}
	resp.ResultData = rows

	resp.State = StateExecuted
	p.summarizeInto(ctx, resp, req, summarize.Evidence{
		Rows:     rows,
		Snippets: p.snippets(ctx, contextDocs, req, normalized),
	}, lang)

	if resp.State == StateSummarized && p.memories != nil {
		desc := fmt.Sprintf("Answered %q with: %s", req.Question, sql)
		if err := p.memories.LogProcedure(ctx, req.UserID, req.ProjectID, desc); err != nil {
			p.logger.Warn("procedure log failed", "error", err)
		}
	}
	return resp
}

// contextDocuments fetches narrative document candidates, degrading to
// none on failure.
func (p *Pipeline) contextDocuments(ctx context.Context, req Request, normalized string, embedding []float32, settings Settings) []retrieval.Candidate {
	docs, err := p.retriever.Retrieve(ctx, req.ProjectID, normalized, embedding,
		retrieval.CorpusDocuments, settings.MinCosine, settings.TopK, settings.Alpha, 0)
	if err != nil {
		p.logger.Warn("context retrieval failed", "error", err)
		return nil
	}
	return docs
}

// snippets turns context documents and recalled memories into evidence
// snippets.
func (p *Pipeline) snippets(ctx context.Context, contextDocs []retrieval.Candidate, req Request, normalized string) []string {
	var out []string
	for _, d := range contextDocs {
		out = append(out, d.Text)
	}
	if p.memories != nil {
		for _, m := range p.memories.RetrieveSemantic(ctx, req.UserID, req.ProjectID, normalized, 3) {
			out = append(out, m.Content)
		}
	}
	return out
}

// summarizeInto writes the answer and usage into resp, downgrading to
// a processing failure message if the summarizer errors.
func (p *Pipeline) summarizeInto(ctx context.Context, resp *Response, req Request, ev summarize.Evidence, lang string) {
	answer, usage, err := p.summarizer.Summarize(ctx, req.Question, ev)
	if err != nil {
		p.logger.Error("summarization failed", "error", err)
		resp.State = StateFailed
		resp.Answer = processingAnswers[lang]
		return
	}
	resp.Answer = answer
	resp.Usage = usage
	if resp.State == StateExecuted {
		resp.State = StateSummarized
	}
}

// persist appends the question/answer pair. A persistence failure is
// logged; the caller still gets the response.
func (p *Pipeline) persist(ctx context.Context, req Request, resp *Response) {
	assistant := history.ChatTurn{
		Content:      resp.Answer,
		SQLQuery:     resp.SQLQuery,
		RagDocuments: resp.RelevantDocuments,
		ResultData:   resp.ResultData,
	}
	err := p.turns.AppendPair(ctx, req.UserID, req.ProjectID,
		history.ChatTurn{Content: req.Question}, assistant)
	if err != nil {
		p.logger.Error("history persistence failed",
			"user_id", req.UserID,
			"project_id", req.ProjectID,
			"error", err)
	}
}
