package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// fetchLimit bounds how many raw candidates one hybrid query may pull
// before blending; blending then caps the final result at topK.
const fetchLimit = 200

// querier is the common interface satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store fetches hybrid retrieval candidates from PostgreSQL. The vector
// leg uses pgvector cosine distance; the lexical leg uses full-text
// rank over a precomputed search vector. Documents lacking an embedding
// are still reachable through the lexical leg.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a retrieval Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// fetchCandidatesSQL applies union eligibility in SQL: a row qualifies
// when its cosine similarity clears the floor OR its search vector
// matches the lexical query.
const fetchCandidatesSQL = `
SELECT id, content,
       CASE WHEN embedding IS NOT NULL THEN 1 - (embedding <=> $1) ELSE 0 END AS vector_score,
       COALESCE(ts_rank_cd(search_vector, plainto_tsquery('simple', $2)), 0) AS lexical_score
FROM documents
WHERE project_id = $3
  AND source_type = ANY($4)
  AND (
       (embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $5)
    OR search_vector @@ plainto_tsquery('simple', $2)
  )
ORDER BY vector_score DESC, id
LIMIT $6`

// FetchCandidates returns raw per-leg scores for every eligible
// document in the corpus. Blending and ranking happen in Blend.
func (s *Store) FetchCandidates(ctx context.Context, projectID string, embedding []float32, query string, corpus Corpus, minVectorScore float64) ([]Candidate, error) {
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx, fetchCandidatesSQL,
		vec, query, projectID, corpus.SourceTypes(), minVectorScore, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("hybrid candidate query: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.DocumentID, &c.Text, &c.VectorScore, &c.LexicalScore); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading candidates: %w", err)
	}

	s.logger.Debug("fetched hybrid candidates",
		"project_id", projectID,
		"corpus", corpus,
		"count", len(out))
	return out, nil
}

// Document is one stored retrievable document.
type Document struct {
	ID         uuid.UUID
	ProjectID  string
	OwnerRef   string
	Content    string
	Embedding  []float32 // nil = not yet embedded
	SourceType string
}

// upsertDocumentSQL keys on id; the search vector column is generated
// from content by the database.
const upsertDocumentSQL = `
INSERT INTO documents (id, project_id, owner_ref, content, embedding, source_type)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    source_type = EXCLUDED.source_type`

// UpsertDocument inserts or updates a document. The stored content is
// the exact string that was embedded; callers re-embedding the same
// text with the same model overwrite with an equivalent vector.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	var vec *pgvector.Vector
	if doc.Embedding != nil {
		v := pgvector.NewVector(doc.Embedding)
		vec = &v
	}

	_, err := s.db.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.ProjectID, doc.OwnerRef, doc.Content, vec, doc.SourceType)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}

	s.logger.Debug("upserted document", "id", doc.ID, "source_type", doc.SourceType)
	return nil
}
