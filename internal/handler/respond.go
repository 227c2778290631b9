package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/examhall/examhall/internal/auth"
	"github.com/examhall/examhall/internal/evaluator"
	appI18n "github.com/examhall/examhall/internal/i18n"
)

type errorBody struct {
	Error  string         `json:"error"`
	Kind   evaluator.Kind `json:"kind"`
	Detail string         `json:"detail,omitempty"`
}

var kindStatus = map[evaluator.Kind]int{
	evaluator.KindInvalidRequest:    http.StatusBadRequest,
	evaluator.KindUnauthorized:      http.StatusUnauthorized,
	evaluator.KindForbidden:         http.StatusForbidden,
	evaluator.KindNotFound:          http.StatusNotFound,
	evaluator.KindConflict:          http.StatusConflict,
	evaluator.KindDependencyFailure: http.StatusInternalServerError,
}

var kindMessage = map[evaluator.Kind]string{
	evaluator.KindInvalidRequest:    "ErrInvalidRequest",
	evaluator.KindUnauthorized:      "ErrUnauthorized",
	evaluator.KindForbidden:         "ErrForbidden",
	evaluator.KindNotFound:          "ErrNotFound",
	evaluator.KindConflict:          "ErrConflict",
	evaluator.KindDependencyFailure: "ErrDependencyFailure",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps err to its status and a localized message. Causes of
// dependency failures are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := evaluator.KindOf(err)
	msgID := kindMessage[kind]
	if errors.Is(err, auth.ErrInvalidCredentials) {
		msgID = "ErrInvalidCredentials"
	}
	body := errorBody{Error: appI18n.T(r.Context(), msgID), Kind: kind}

	var e *evaluator.Error
	if kind == evaluator.KindDependencyFailure {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else if errors.As(err, &e) {
		body.Detail = e.Msg
	}
	writeJSON(w, kindStatus[kind], body)
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	err := dec.Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return evaluator.NewError(evaluator.KindInvalidRequest, "malformed JSON body", err)
	}
	return nil
}
