package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/examhall/examhall/internal/i18n"
	"github.com/examhall/examhall/internal/model"
)

type evaluateRequest struct {
	SessionID string `json:"sessionId"`
}

type evaluationResponse struct {
	*model.Evaluation
	Verdict string `json:"verdict,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	h.evaluate(w, r, req.SessionID)
}

func (h *Handler) handleEvaluateSession(w http.ResponseWriter, r *http.Request) {
	h.evaluate(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, sessionID string) {
	ev, err := h.eval.Evaluate(r.Context(), sessionID, callerFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEvaluation(w, r, ev)
}

func writeEvaluation(w http.ResponseWriter, r *http.Request, ev *model.Evaluation) {
	resp := evaluationResponse{
		Evaluation: ev,
		Message: appI18n.Td(r.Context(), "MarksSummary", map[string]any{
			"Obtained": ev.Summary.MarksObtained,
			"Total":    ev.Summary.TotalMarks,
		}),
	}
	if p := ev.Result.Passed; p != nil {
		if *p {
			resp.Verdict = appI18n.T(r.Context(), "VerdictPass")
		} else {
			resp.Verdict = appI18n.T(r.Context(), "VerdictFail")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.exams.GetResult(r.Context(), callerFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.exams.StartSession(r.Context(), callerFrom(r), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type saveResponseRequest struct {
	SelectedAnswer    model.Answer `json:"selected_answer"`
	IsMarkedForReview bool         `json:"is_marked_for_review"`
	TimeSpentSeconds  int          `json:"time_spent_seconds"`
}

func (h *Handler) handleSaveResponse(w http.ResponseWriter, r *http.Request) {
	var req saveResponseRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	resp := model.Response{
		SessionID:         chi.URLParam(r, "sessionID"),
		QuestionID:        chi.URLParam(r, "questionID"),
		SelectedAnswer:    req.SelectedAnswer,
		IsMarkedForReview: req.IsMarkedForReview,
		TimeSpentSeconds:  req.TimeSpentSeconds,
	}
	if err := h.exams.SaveResponse(r.Context(), callerFrom(r), resp); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Auto bool `json:"auto"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := h.exams.Submit(r.Context(), callerFrom(r), chi.URLParam(r, "sessionID"), req.Auto)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEvaluation(w, r, ev)
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	ev, err := h.exams.Terminate(r.Context(), callerFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeEvaluation(w, r, ev)
}

type answerKeyRequest struct {
	Answers map[string]model.Answer `json:"answers"`
}

func (h *Handler) handleUploadAnswerKey(w http.ResponseWriter, r *http.Request) {
	var req answerKeyRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := h.exams.UploadAnswerKey(r.Context(), callerFrom(r), chi.URLParam(r, "examID"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

type reevaluateResponse struct {
	Evaluated int      `json:"evaluated"`
	Failed    []string `json:"failed,omitempty"`
	Reranked  bool     `json:"reranked"`
	Message   string   `json:"message"`
}

func (h *Handler) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	report, err := h.exams.Reevaluate(r.Context(), callerFrom(r), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reevaluateResponse{
		Evaluated: report.Evaluated,
		Failed:    report.Failed,
		Reranked:  report.Reranked,
		Message:   appI18n.Tp(r.Context(), "SessionsReevaluated", report.Evaluated),
	})
}

type rankingsRequest struct {
	Publish bool `json:"publish"`
}

func (h *Handler) handleRankings(w http.ResponseWriter, r *http.Request) {
	var req rankingsRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	standings, err := h.exams.Rank(r.Context(), callerFrom(r), chi.URLParam(r, "examID"), req.Publish)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if standings == nil {
		standings = []model.Standing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"standings": standings})
}
