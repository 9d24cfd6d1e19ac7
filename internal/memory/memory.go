// Package memory gives the assistant recall across conversations.
// Semantic memories are embedded facts searched by similarity,
// episodic recall replays recent chat turns, and procedural entries
// log how an answer was produced.
//
// Memory is an enhancement: retrieval failures degrade to empty
// results instead of failing the caller.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/tanyadata/tanya/internal/history"
)

// TagProcedure marks entries that record how an answer was produced.
// They are excluded from ordinary semantic recall and only surface
// when asked for explicitly.
const TagProcedure = "procedure"

// defaultLimit bounds recall when the caller passes no limit.
const defaultLimit = 5

// Memory is one stored recall entry.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// embedder produces the vectors memories are stored and searched by.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// turnSource supplies recent conversation turns for episodic recall.
type turnSource interface {
	Recent(ctx context.Context, userID, projectID string, limit int) ([]history.ChatTurn, error)
}

// querier is the common interface satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages memories backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       querier
	embedder embedder
	turns    turnSource
	logger   *slog.Logger
}

// NewStore creates a memory Store. turns may be nil when episodic
// recall is not needed.
func NewStore(db querier, emb embedder, turns turnSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: emb, turns: turns, logger: logger}
}

// saveSQL dedupes on exact content per user and project; re-saving the
// same fact is a no-op.
const saveSQL = `
INSERT INTO memories (id, user_id, project_id, content, embedding, tags)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, project_id, md5(content)) DO NOTHING`

// SaveSemantic embeds and stores one memory.
func (s *Store) SaveSemantic(ctx context.Context, userID, projectID, content string, tags []string) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding memory: %w", err)
	}

	_, err = s.db.Exec(ctx, saveSQL,
		uuid.New(), userID, projectID, content, pgvector.NewVector(vec), tags)
	if err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}

	s.logger.Debug("saved memory", "user_id", userID, "tags", tags)
	return nil
}

// retrieveSQL orders by cosine distance. Procedure entries never join
// ordinary recall; $4 toggles between excluding them and selecting
// only them.
const retrieveSQL = `
SELECT id, content, tags, created_at
FROM memories
WHERE user_id = $1 AND project_id = $2
  AND (($4 AND 'procedure' = ANY(tags)) OR (NOT $4 AND NOT ('procedure' = ANY(tags))))
ORDER BY embedding <=> $3
LIMIT $5`

// RetrieveSemantic returns the memories most similar to the query.
// Any failure degrades to an empty result.
func (s *Store) RetrieveSemantic(ctx context.Context, userID, projectID, query string, limit int) []Memory {
	return s.retrieve(ctx, userID, projectID, query, limit, false)
}

// RetrieveProcedures returns procedure entries most similar to the
// query, for callers that explicitly want the how-it-was-answered log.
func (s *Store) RetrieveProcedures(ctx context.Context, userID, projectID, query string, limit int) []Memory {
	return s.retrieve(ctx, userID, projectID, query, limit, true)
}

func (s *Store) retrieve(ctx context.Context, userID, projectID, query string, limit int, procedures bool) []Memory {
	if limit <= 0 {
		limit = defaultLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("memory recall skipped: embedding failed", "error", err)
		return nil
	}

	rows, err := s.db.Query(ctx, retrieveSQL,
		userID, projectID, pgvector.NewVector(vec), procedures, limit)
	if err != nil {
		s.logger.Warn("memory recall skipped: query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Content, &m.Tags, &m.CreatedAt); err != nil {
			s.logger.Warn("memory recall truncated: scan failed", "error", err)
			return out
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("memory recall truncated", "error", err)
	}
	return out
}

// RetrieveEpisodic returns recent conversation turns, oldest first.
// Failures degrade to an empty result.
func (s *Store) RetrieveEpisodic(ctx context.Context, userID, projectID string, limit int) []history.ChatTurn {
	if s.turns == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultLimit * 2
	}

	turns, err := s.turns.Recent(ctx, userID, projectID, limit)
	if err != nil {
		s.logger.Warn("episodic recall skipped", "error", err)
		return nil
	}
	return turns
}

// LogProcedure records how an answer was produced as a procedure-tagged
// memory. Best effort; the error is returned for logging only.
func (s *Store) LogProcedure(ctx context.Context, userID, projectID, description string) error {
	return s.SaveSemantic(ctx, userID, projectID, description, []string{TagProcedure})
}
