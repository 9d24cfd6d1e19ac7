// Package history stores conversation turns. The log is append-only and
// scoped by user and project; a question and its answer are always
// written together.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tanyadata/tanya/internal/retrieval"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one entry in the conversation log. SQLQuery, RagDocuments
// and ResultData are populated on assistant turns only.
type ChatTurn struct {
	ID           uuid.UUID             `json:"id"`
	Role         string                `json:"role"`
	Content      string                `json:"content"`
	SQLQuery     *string               `json:"sqlQuery,omitempty"`
	RagDocuments []retrieval.Candidate `json:"ragDocuments,omitempty"`
	ResultData   []map[string]any      `json:"resultData,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// querier is the common interface satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists chat turns in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a history Store.
func NewStore(db querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// appendPairSQL inserts both turns of an exchange in one statement so a
// reader never observes a question without its answer. The seq column
// is a bigserial; the multi-row insert assigns the user turn the lower
// sequence number.
const appendPairSQL = `
INSERT INTO chat_turns (id, user_id, project_id, role, content, sql_query, rag_documents, result_data)
VALUES ($1, $2, $3, $4, $5, NULL, NULL, NULL),
       ($6, $2, $3, $7, $8, $9, $10, $11)`

// AppendPair appends a user turn and its assistant turn atomically.
func (s *Store) AppendPair(ctx context.Context, userID, projectID string, user, assistant ChatTurn) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if assistant.ID == uuid.Nil {
		assistant.ID = uuid.New()
	}

	_, err := s.db.Exec(ctx, appendPairSQL,
		user.ID, userID, projectID, RoleUser, user.Content,
		assistant.ID, RoleAssistant, assistant.Content,
		assistant.SQLQuery, assistant.RagDocuments, assistant.ResultData)
	if err != nil {
		return fmt.Errorf("appending chat turns: %w", err)
	}

	s.logger.Debug("appended chat turn pair",
		"user_id", userID,
		"project_id", projectID)
	return nil
}

// recentSQL picks the newest turns, then reorders them oldest-first so
// callers can replay the conversation in reading order.
const recentSQL = `
SELECT id, role, content, sql_query, rag_documents, result_data, created_at
FROM (
	SELECT seq, id, role, content, sql_query, rag_documents, result_data, created_at
	FROM chat_turns
	WHERE user_id = $1 AND project_id = $2
	ORDER BY seq DESC
	LIMIT $3
) latest
ORDER BY seq ASC`

// Recent returns up to limit of the newest turns, oldest first.
func (s *Store) Recent(ctx context.Context, userID, projectID string, limit int) ([]ChatTurn, error) {
	rows, err := s.db.Query(ctx, recentSQL, userID, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent turns: %w", err)
	}
	defer rows.Close()

	var out []ChatTurn
	for rows.Next() {
		var t ChatTurn
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.SQLQuery, &t.RagDocuments, &t.ResultData, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat turns: %w", err)
	}
	return out, nil
}
