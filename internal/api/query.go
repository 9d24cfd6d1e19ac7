package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tanyadata/tanya/internal/history"
	"github.com/tanyadata/tanya/internal/pipeline"
	"github.com/tanyadata/tanya/internal/retrieval"
	"github.com/tanyadata/tanya/internal/summarize"
)

// maxQueryBody bounds the request body size.
const maxQueryBody = 64 << 10

// defaultHistoryLimit caps the chatHistory echoed in responses when no
// limit is configured.
const defaultHistoryLimit = 20

// answerer is the slice of the pipeline the handler needs.
type answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// turnSource is the slice of the history store the handler needs.
type turnSource interface {
	Recent(ctx context.Context, userID, projectID string, limit int) ([]history.ChatTurn, error)
}

// queryRequest is the body of POST /api/query. ChatHistory is accepted
// for client compatibility but ignored: the server-side conversation
// history is authoritative.
type queryRequest struct {
	UserID        string          `json:"userId" validate:"required"`
	ProjectID     string          `json:"projectId" validate:"required"`
	ProjectSchema string          `json:"projectSchema" validate:"required"`
	Question      string          `json:"question" validate:"required,max=2000"`
	DistrictHints []string        `json:"districtHints" validate:"omitempty,dive,required"`
	MinCosine     *float64        `json:"minCosine" validate:"omitempty,gte=0,lte=1"`
	TopK          *int            `json:"topK" validate:"omitempty,gte=1,lte=20"`
	ChatHistory   json.RawMessage `json:"chatHistory"`
}

// queryResponse is the conversational envelope around the pipeline's
// answer: a success flag, the echoed question, and the refreshed
// conversation history including the turn pair just persisted.
type queryResponse struct {
	Success           bool                  `json:"success"`
	Query             string                `json:"query"`
	Answer            string                `json:"answer"`
	SQLQuery          *string               `json:"sqlQuery"`
	Data              []map[string]any      `json:"data"`
	ChatHistory       []history.ChatTurn    `json:"chatHistory"`
	RelevantDocuments []retrieval.Candidate `json:"relevantDocuments"`
	SearchStats       pipeline.SearchStats  `json:"searchStats"`
	Usage             summarize.TokenUsage  `json:"usage"`
	State             pipeline.State        `json:"state"`
}

type queryHandler struct {
	pipeline     answerer
	turns        turnSource
	historyLimit int
	validate     *validator.Validate
	logger       *slog.Logger
}

func newQueryHandler(p answerer, turns turnSource, historyLimit int, logger *slog.Logger) *queryHandler {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &queryHandler{
		pipeline:     p,
		turns:        turns,
		historyLimit: historyLimit,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger,
	}
}

// answer handles POST /api/query.
func (h *queryHandler) answer(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, len(verrs))
			for i, fe := range verrs {
				details[i] = fmt.Sprintf("field %s failed on %s", fe.Field(), fe.Tag())
			}
			writeError(w, http.StatusBadRequest, "validation failed", details...)
			return
		}
		writeError(w, http.StatusBadRequest, "validation failed")
		return
	}

	resp, err := h.pipeline.Answer(r.Context(), pipeline.Request{
		UserID:        req.UserID,
		ProjectID:     req.ProjectID,
		ProjectSchema: req.ProjectSchema,
		Question:      req.Question,
		DistrictHints: req.DistrictHints,
		MinCosine:     req.MinCosine,
		TopK:          req.TopK,
	})
	if err != nil {
		// Only context errors escape the pipeline.
		h.logger.Warn("query aborted", "error", err)
		writeError(w, http.StatusInternalServerError, "query processing failed")
		return
	}

	writeJSON(w, http.StatusOK, h.envelope(r.Context(), req, resp))
}

// envelope assembles the response body. A history fetch failure
// degrades to an empty chatHistory; the answer still goes out.
func (h *queryHandler) envelope(ctx context.Context, req queryRequest, resp *pipeline.Response) queryResponse {
	data := resp.ResultData
	if data == nil {
		data = []map[string]any{}
	}

	turns := []history.ChatTurn{}
	if h.turns != nil {
		recent, err := h.turns.Recent(ctx, req.UserID, req.ProjectID, h.historyLimit)
		if err != nil {
			h.logger.Warn("chat history fetch failed",
				"user_id", req.UserID,
				"project_id", req.ProjectID,
				"error", err)
		} else if recent != nil {
			turns = recent
		}
	}

	return queryResponse{
		Success:           true,
		Query:             req.Question,
		Answer:            resp.Answer,
		SQLQuery:          resp.SQLQuery,
		Data:              data,
		ChatHistory:       turns,
		RelevantDocuments: resp.RelevantDocuments,
		SearchStats:       resp.SearchStats,
		Usage:             resp.Usage,
		State:             resp.State,
	}
}
