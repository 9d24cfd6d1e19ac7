// Package summarize turns execution results and retrieved snippets into
// a natural-language answer in the user's language, and accounts for the
// tokens the provider spent doing it.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// Evidence caps. Everything beyond these limits is dropped before the
// prompt is built so a wide result set cannot blow the context window.
const (
	maxRows       = 5
	maxSnippets   = 5
	maxSnippetLen = 1200
)

// Usage sources.
const (
	UsageMeasured  = "measured"  // reported by the provider
	UsageEstimated = "estimated" // derived from character counts
)

// TokenUsage is the token spend of one summarization call.
type TokenUsage struct {
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Total  int    `json:"total"`
	Source string `json:"source"`
}

// Evidence is what the answer may be grounded in: rows returned by the
// executed statement and document snippets from retrieval.
type Evidence struct {
	Rows     []map[string]any
	Snippets []string
}

func (e Evidence) empty() bool {
	return len(e.Rows) == 0 && len(e.Snippets) == 0
}

// Canned answers for the no-evidence case, keyed by language.
var noDataAnswers = map[string]string{
	"en": "I could not find any data to answer this question.",
	"id": "Saya tidak menemukan data untuk menjawab pertanyaan ini.",
}

// generator is the slice of the llm client this package needs.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error)
}

// Summarizer produces grounded answers via the configured model.
type Summarizer struct {
	gen      generator
	language string // "en", "id", or "auto"
	logger   *slog.Logger
}

// New creates a Summarizer on top of the given generator. language
// selects the answer language; "auto" detects it from the user's
// question.
func New(gen generator, language string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = "auto"
	}
	return &Summarizer{gen: gen, language: language, logger: logger}
}

const summaryPrompt = `You answer questions about Indonesian project data.

Answer the question using ONLY the evidence below. Do not invent
numbers or names that are not in the evidence. Answer in %s.
Keep the answer short and direct.

Evidence:
%s

Question: %s

Answer:`

var languageNames = map[string]string{
	"en": "English",
	"id": "Indonesian",
}

// Summarize answers the question from the evidence. With empty evidence
// it returns a canned answer without calling the provider, and reports
// zero usage.
func (s *Summarizer) Summarize(ctx context.Context, question string, ev Evidence) (string, TokenUsage, error) {
	lang := s.language
	if lang == "auto" {
		lang = DetectLanguage(question)
	}

	if ev.empty() {
		return noDataAnswers[lang], TokenUsage{Source: UsageMeasured}, nil
	}

	prompt := fmt.Sprintf(summaryPrompt, languageNames[lang], renderEvidence(ev), question)

	text, reported, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("summarization: %w", err)
	}

	answer := strings.TrimSpace(text)
	usage := usageFrom(reported, prompt, answer)

	s.logger.Debug("summarized answer",
		"language", lang,
		"tokens", usage.Total,
		"usage_source", usage.Source)
	return answer, usage, nil
}

// renderEvidence serializes capped evidence for the prompt. Rows become
// JSON objects, snippets are truncated plain text.
func renderEvidence(ev Evidence) string {
	var sb strings.Builder

	rows := ev.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			continue
		}
		sb.Write(b)
		sb.WriteString("\n")
	}

	snippets := ev.Snippets
	if len(snippets) > maxSnippets {
		snippets = snippets[:maxSnippets]
	}
	for _, sn := range snippets {
		if len(sn) > maxSnippetLen {
			sn = sn[:maxSnippetLen]
		}
		sb.WriteString("- ")
		sb.WriteString(sn)
		sb.WriteString("\n")
	}

	return sb.String()
}

// usageFrom prefers the provider's reported counts, falling back to a
// four-characters-per-token estimate when they are absent.
func usageFrom(u *ai.GenerationUsage, prompt, answer string) TokenUsage {
	if u != nil && u.TotalTokens > 0 {
		return TokenUsage{
			Input:  u.InputTokens,
			Output: u.OutputTokens,
			Total:  u.TotalTokens,
			Source: UsageMeasured,
		}
	}
	in := len(prompt) / 4
	out := len(answer) / 4
	return TokenUsage{Input: in, Output: out, Total: in + out, Source: UsageEstimated}
}

// Indonesian function words that rarely appear in English questions.
// One hit is enough; questions are short and these words are dense in
// ordinary Indonesian phrasing.
var indonesianMarkers = map[string]struct{}{
	"yang": {}, "berapa": {}, "jumlah": {}, "apakah": {},
	"bagaimana": {}, "dengan": {}, "untuk": {}, "dari": {},
	"adalah": {}, "tidak": {}, "atau": {}, "daftar": {},
	"semua": {}, "dimana": {}, "siapa": {}, "banyak": {},
}

// DetectLanguage guesses "id" or "en" from the question text. English
// is the default when nothing marks the text as Indonesian.
func DetectLanguage(question string) string {
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if _, ok := indonesianMarkers[w]; ok {
			return "id"
		}
	}
	return "en"
}
