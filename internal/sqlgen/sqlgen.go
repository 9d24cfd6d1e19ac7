// Package sqlgen synthesizes a single read-only SQL statement from a
// normalized question and the retrieved schema documents, and cleans
// provider output into an executable statement.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/tanyadata/tanya/internal/retrieval"
)

// ErrEmptySQL indicates the statement is empty after cleaning.
var ErrEmptySQL = errors.New("empty sql statement")

// generator is the slice of the llm client this package needs.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error)
}

// Synthesizer produces SQL grounded in retrieved schema documents.
type Synthesizer struct {
	gen    generator
	logger *slog.Logger
}

// New creates a Synthesizer on top of the given generator.
func New(gen generator, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{gen: gen, logger: logger}
}

const synthesisPrompt = `You write PostgreSQL for a conversational data assistant.

Rules:
- Write exactly ONE SELECT statement. Never write DDL or DML.
- Use ONLY table and column names that literally appear in the schema
  descriptions below. Quote every identifier with double quotes.
- Never prefix tables with a schema name; exactly one schema is active.
- For free-text filters use case-insensitive partial matching:
  "column" ILIKE '%%term%%'. Never use = for text values.
- Unless the question asks for a count or another aggregate, or names an
  explicit limit, append LIMIT 10.
- If the schema descriptions cannot answer the question, respond with an
  empty message.

Schema descriptions:
%s

Question: %s

SQL:`

// Synthesize returns a cleaned single SQL statement, or empty when the
// provider yields no usable statement. An empty result means "cannot
// answer via SQL" and is not an error.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, schemaDocs []retrieval.Candidate) (string, error) {
	var sb strings.Builder
	for _, d := range schemaDocs {
		sb.WriteString("- ")
		sb.WriteString(d.Text)
		sb.WriteString("\n")
	}

	raw, _, err := s.gen.Generate(ctx, fmt.Sprintf(synthesisPrompt, sb.String(), query))
	if err != nil {
		return "", fmt.Errorf("sql synthesis: %w", err)
	}

	cleaned, err := Clean(raw)
	if errors.Is(err, ErrEmptySQL) {
		s.logger.Debug("synthesizer produced no usable statement")
		return "", nil
	}
	if err != nil {
		return "", err
	}

	s.logger.Debug("synthesized sql", "length", len(cleaned))
	return cleaned, nil
}

// schemaQualifier matches a quoted or bare schema prefix before a
// quoted table name, e.g. `"proj".` or `proj.` in `"proj"."table"`.
var schemaQualifier = regexp.MustCompile(`(?:"[A-Za-z0-9_]+"|[A-Za-z0-9_]+)\.(")`)

// Clean turns raw provider output into one executable statement:
// markdown fences are stripped, schema qualifiers removed (tables
// resolve against exactly one active schema), and everything after the
// first terminal semicolon discarded.
func Clean(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	// Strip markdown code fences.
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// At most one terminal statement.
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i+1]
	}

	// Strip schema qualification from quoted identifiers.
	s = schemaQualifier.ReplaceAllString(s, "$1")

	s = strings.TrimSpace(s)
	if s == "" || s == ";" {
		return "", ErrEmptySQL
	}
	return s, nil
}
