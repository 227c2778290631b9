package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/examhall/examhall/internal/auth"
	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/importer"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/store"
)

// adminOf reports whether caller administers instituteID.
func adminOf(caller model.CallerIdentity, instituteID string) bool {
	if caller.HasRole(model.UserRoleSuperAdmin) {
		return true
	}
	if instituteID == "" {
		return false
	}
	for _, own := range caller.Roles {
		if own.Role == model.UserRoleInstituteAdmin && own.InstituteID == instituteID {
			return true
		}
	}
	return false
}

// canGrant reports whether caller may hand out g. Super admins may grant
// anything; institute admins only non-admin roles inside their institute.
func canGrant(caller model.CallerIdentity, g model.RoleGrant) bool {
	if caller.HasRole(model.UserRoleSuperAdmin) {
		return true
	}
	if g.Role == model.UserRoleSuperAdmin || g.Role == model.UserRoleInstituteAdmin {
		return false
	}
	return adminOf(caller, g.InstituteID)
}

type createUserRequest struct {
	Username    string            `json:"username"`
	DisplayName string            `json:"display_name"`
	Password    string            `json:"password"`
	Roles       []model.RoleGrant `json:"roles"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "username and password required", nil))
		return
	}
	if len(req.Roles) == 0 {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "at least one role required", nil))
		return
	}
	caller := callerFrom(r)
	for _, g := range req.Roles {
		if !g.Role.Valid() {
			writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "unknown role "+string(g.Role), nil))
			return
		}
		if !canGrant(caller, g) {
			writeError(w, r, evaluator.NewError(evaluator.KindForbidden, "cannot grant "+string(g.Role), nil))
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	id, err := h.store.CreateUser(r.Context(), model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Active:       true,
	}, req.Roles)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, r, evaluator.NewError(evaluator.KindConflict, "username already taken", err))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": req.Username, "roles": req.Roles})
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r).HasRole(model.UserRoleSuperAdmin) {
		writeError(w, r, evaluator.NewError(evaluator.KindForbidden, "only super admins may change accounts", nil))
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, h.config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "userID")
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, evaluator.NewError(evaluator.KindNotFound, "user not found", nil))
		return
	}
	if err := h.store.SetUserActive(r.Context(), id, req.Active); err != nil {
		slog.Error("failed to set user active", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importResponse struct {
	*importer.Report
	Evaluated int      `json:"evaluated"`
	Failed    []string `json:"failed,omitempty"`
}

// handleImport accepts an exam bundle as the multipart field "bundle" and
// evaluates the finished sessions it contains.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	if err := r.ParseMultipartForm(h.config.MaxBodyBytes); err != nil {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "file too large", err))
		return
	}
	file, header, err := r.FormFile("bundle")
	if err != nil {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "no bundle uploaded", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, "failed to read bundle", err))
		return
	}
	b, err := importer.Parse(data)
	if err != nil {
		writeError(w, r, evaluator.NewError(evaluator.KindInvalidRequest, err.Error(), err))
		return
	}

	caller := callerFrom(r)
	if !adminOf(caller, b.Exam.InstituteID) {
		writeError(w, r, evaluator.NewError(evaluator.KindForbidden, "bundle belongs to another institute", nil))
		return
	}
	for _, u := range b.Users {
		for _, g := range u.Roles {
			if !canGrant(caller, g) {
				writeError(w, r, evaluator.NewError(evaluator.KindForbidden, "bundle grants "+string(g.Role)+" to "+u.Username, nil))
				return
			}
		}
	}

	rep, err := importer.New(h.store).Import(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := importResponse{Report: rep}
	for _, id := range rep.Finished {
		if _, err := h.eval.Evaluate(r.Context(), id, caller); err != nil {
			resp.Failed = append(resp.Failed, id)
			continue
		}
		resp.Evaluated++
	}
	writeJSON(w, http.StatusOK, resp)
}
