package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/identity"
	"github.com/go-chi/chi/v5"
)

// QuestionHandler serves the status endpoint polled when a stream stalls.
type QuestionHandler struct {
	*Handler
}

// NewQuestionHandler creates a new question handler.
func NewQuestionHandler(base *Handler) *QuestionHandler {
	return &QuestionHandler{Handler: base}
}

// Status handles GET /question/{id}. The body always carries the
// {code, data:{answer}, msg} envelope; data.answer is null until the
// relay has stored the full answer.
func (h *QuestionHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		StatusJSON(w, http.StatusBadRequest, nil, "missing question id")
		return
	}

	q, err := h.repo.GetQuestion(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load question", "error", err, "question_id", id)
		StatusJSON(w, http.StatusInternalServerError, nil, "failed to load question")
		return
	}
	// Questions of other users are reported as missing.
	if q == nil || q.UserID != identity.UserIDFromContext(r.Context()) {
		StatusJSON(w, http.StatusNotFound, nil, "question not found")
		return
	}

	StatusJSON(w, http.StatusOK, q.Answer, "ok")
}

// StatusJSON writes the status envelope with a matching HTTP status code.
func StatusJSON(w http.ResponseWriter, code int, answer *string, msg string) {
	JSON(w, code, domain.StatusResponse{
		Code: code,
		Data: &domain.StatusData{Answer: answer},
		Msg:  msg,
	})
}
