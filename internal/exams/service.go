// Package exams runs the session lifecycle around evaluation: starting and
// finishing sessions, autosaving responses, publishing answer-key versions,
// re-evaluating an exam and recomputing standings.
package exams

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/ranking"
	"github.com/examhall/examhall/internal/store"
)

// SystemCaller is the identity used for work nobody requested directly, such
// as auto-submitting sessions whose time ran out.
var SystemCaller = model.CallerIdentity{
	UserID: "system",
	Roles:  []model.RoleGrant{{Role: model.UserRoleSuperAdmin}},
}

// Store is the persistence the lifecycle needs.
type Store interface {
	GetExam(ctx context.Context, id string) (*model.Exam, error)
	GetSessionWithExam(ctx context.Context, id string) (*model.Session, *model.Exam, error)
	StartSession(ctx context.Context, examID, studentID string) (*model.Session, error)
	FinishSession(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error)
	SaveResponse(ctx context.Context, r *model.Response) error
	ListTerminalSessions(ctx context.Context, examID string) ([]model.Session, error)
	ListExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error)
	ListQuestions(ctx context.Context, examID string) ([]model.Question, error)
	AddAnswerKey(ctx context.Context, k *model.AnswerKey) error
	GetResult(ctx context.Context, sessionID string) (*model.Result, error)
	ListResults(ctx context.Context, examID string) ([]model.Result, error)
	UpdateStandings(ctx context.Context, examID string, standings []model.Standing) error
	PublishResults(ctx context.Context, examID string) (int64, error)
}

// Evaluator grades one session.
type Evaluator interface {
	Evaluate(ctx context.Context, sessionID string, caller model.CallerIdentity) (*model.Evaluation, error)
}

// Service implements the lifecycle operations.
type Service struct {
	store Store
	eval  Evaluator
	now   func() time.Time
}

// New creates a Service.
func New(st Store, eval Evaluator) *Service {
	return &Service{store: st, eval: eval, now: time.Now}
}

// StartSession opens a new attempt at examID for the caller.
func (s *Service) StartSession(ctx context.Context, caller model.CallerIdentity, examID string) (*model.Session, error) {
	if caller.UserID == "" {
		return nil, evaluator.NewError(evaluator.KindUnauthorized, "login required", nil)
	}
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, storeError("load exam", err)
	}
	if exam == nil {
		return nil, evaluator.NewError(evaluator.KindNotFound, "exam not found", nil)
	}
	sess, err := s.store.StartSession(ctx, exam.ID, caller.UserID)
	if err != nil {
		return nil, storeError("start session", err)
	}
	slog.Info("session started", "session_id", sess.ID, "exam_id", exam.ID, "student_id", caller.UserID)
	return sess, nil
}

// SaveResponse autosaves one answer. Only the session's student may write,
// and only while the session is in progress.
func (s *Service) SaveResponse(ctx context.Context, caller model.CallerIdentity, r model.Response) error {
	sess, _, err := s.loadSession(ctx, r.SessionID)
	if err != nil {
		return err
	}
	if caller.UserID == "" || caller.UserID != sess.StudentID {
		return evaluator.NewError(evaluator.KindForbidden, "only the session's student may answer", nil)
	}
	if r.TimeSpentSeconds < 0 {
		return evaluator.NewError(evaluator.KindInvalidRequest, "time spent cannot be negative", nil)
	}
	if err := s.store.SaveResponse(ctx, &r); err != nil {
		return storeError("save response", err)
	}
	return nil
}

// Submit ends the caller's own session and evaluates it. auto marks a
// timer-driven submission.
func (s *Service) Submit(ctx context.Context, caller model.CallerIdentity, sessionID string, auto bool) (*model.Evaluation, error) {
	sess, _, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if caller.UserID == "" || caller.UserID != sess.StudentID {
		return nil, evaluator.NewError(evaluator.KindForbidden, "only the session's student may submit", nil)
	}
	status := model.StatusSubmitted
	if auto {
		status = model.StatusAutoSubmitted
	}
	return s.finish(ctx, caller, sessionID, status)
}

// Terminate ends a session on behalf of staff and evaluates it.
func (s *Service) Terminate(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Evaluation, error) {
	_, exam, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canManage(caller, exam) {
		return nil, evaluator.NewError(evaluator.KindForbidden, "only exam staff may terminate sessions", nil)
	}
	return s.finish(ctx, caller, sessionID, model.StatusTerminated)
}

func (s *Service) finish(ctx context.Context, caller model.CallerIdentity, sessionID string, status model.SessionStatus) (*model.Evaluation, error) {
	if _, err := s.store.FinishSession(ctx, sessionID, status); err != nil {
		return nil, storeError("finish session", err)
	}
	slog.Info("session finished", "session_id", sessionID, "status", status, "by", caller.UserID)
	return s.eval.Evaluate(ctx, sessionID, caller)
}

// ExpireOverdue auto-submits and evaluates every in-progress session whose
// exam duration has passed. It returns how many sessions were closed.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, storeError("list expired sessions", err)
	}
	closed := 0
	for _, sess := range expired {
		_, err := s.finish(ctx, SystemCaller, sess.ID, model.StatusAutoSubmitted)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, evaluator.ErrConflict):
			// submitted by the student in the meantime
		default:
			slog.Error("auto-submit failed", "session_id", sess.ID, "error", err)
		}
	}
	return closed, nil
}

// GetResult returns the stored result of a session. Students see their own
// result only once it is published; staff always see it.
func (s *Service) GetResult(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Result, error) {
	sess, exam, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !evaluator.CanEvaluate(caller, sess, exam) {
		return nil, evaluator.NewError(evaluator.KindForbidden, "caller may not read this result", nil)
	}
	res, err := s.store.GetResult(ctx, sessionID)
	if err != nil {
		return nil, storeError("load result", err)
	}
	if res == nil {
		return nil, evaluator.NewError(evaluator.KindNotFound, "session has not been evaluated", nil)
	}
	if !res.IsPublished && !canManage(caller, exam) {
		return nil, evaluator.NewError(evaluator.KindNotFound, "result not published yet", nil)
	}
	return res, nil
}

// UploadAnswerKey stores a new answer-key version for the exam. Every entry
// must name a question of the exam.
func (s *Service) UploadAnswerKey(ctx context.Context, caller model.CallerIdentity, examID string, answers map[string]model.Answer) (*model.AnswerKey, error) {
	if len(answers) == 0 {
		return nil, evaluator.NewError(evaluator.KindInvalidRequest, "answer key is empty", nil)
	}
	if _, err := s.loadManagedExam(ctx, caller, examID); err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, examID)
	if err != nil {
		return nil, storeError("list questions", err)
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	for qid := range answers {
		if !known[qid] {
			return nil, evaluator.NewError(evaluator.KindInvalidRequest, "answer key names unknown question "+qid, nil)
		}
	}
	k := &model.AnswerKey{ExamID: examID, Answers: answers, UploadedBy: caller.UserID}
	if err := s.store.AddAnswerKey(ctx, k); err != nil {
		return nil, storeError("store answer key", err)
	}
	slog.Info("answer key uploaded", "exam_id", examID, "version", k.Version, "entries", len(answers))
	return k, nil
}

// ReevaluateReport summarizes a bulk re-evaluation.
type ReevaluateReport struct {
	Evaluated int      `json:"evaluated"`
	Failed    []string `json:"failed,omitempty"`
	Reranked  bool     `json:"reranked"`
}

// Reevaluate evaluates every finished session of the exam again, for example
// after an answer-key correction. Individual failures are reported, not fatal.
// If the exam was already ranked, standings are recomputed from the new marks.
func (s *Service) Reevaluate(ctx context.Context, caller model.CallerIdentity, examID string) (*ReevaluateReport, error) {
	if _, err := s.loadManagedExam(ctx, caller, examID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListTerminalSessions(ctx, examID)
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	report := &ReevaluateReport{}
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return report, evaluator.NewError(evaluator.KindDependencyFailure, "re-evaluation interrupted", err)
		}
		if _, err := s.eval.Evaluate(ctx, sess.ID, caller); err != nil {
			report.Failed = append(report.Failed, sess.ID)
			continue
		}
		report.Evaluated++
	}

	results, err := s.store.ListResults(ctx, examID)
	if err != nil {
		return report, storeError("list results", err)
	}
	if slices.ContainsFunc(results, func(r model.Result) bool { return r.Rank != nil }) {
		if err := s.store.UpdateStandings(ctx, examID, ranking.Compute(results)); err != nil {
			return report, storeError("store standings", err)
		}
		report.Reranked = true
	}
	slog.Info("exam re-evaluated", "exam_id", examID, "evaluated", report.Evaluated,
		"failed", len(report.Failed), "reranked", report.Reranked)
	return report, nil
}

// Rank recomputes rank and percentile for every result of the exam. When
// publish is set, results become visible to students as well.
func (s *Service) Rank(ctx context.Context, caller model.CallerIdentity, examID string, publish bool) ([]model.Standing, error) {
	if _, err := s.loadManagedExam(ctx, caller, examID); err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, examID)
	if err != nil {
		return nil, storeError("list results", err)
	}
	standings := ranking.Compute(results)
	if err := s.store.UpdateStandings(ctx, examID, standings); err != nil {
		return nil, storeError("store standings", err)
	}
	if publish {
		if _, err := s.store.PublishResults(ctx, examID); err != nil {
			return nil, storeError("publish results", err)
		}
	}
	slog.Info("standings updated", "exam_id", examID, "results", len(standings), "published", publish)
	return standings, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID string) (*model.Session, *model.Exam, error) {
	if sessionID == "" {
		return nil, nil, evaluator.NewError(evaluator.KindInvalidRequest, "sessionId is required", nil)
	}
	sess, exam, err := s.store.GetSessionWithExam(ctx, sessionID)
	if err != nil {
		return nil, nil, storeError("load session", err)
	}
	if sess == nil {
		return nil, nil, evaluator.NewError(evaluator.KindNotFound, "session not found", nil)
	}
	return sess, exam, nil
}

func (s *Service) loadManagedExam(ctx context.Context, caller model.CallerIdentity, examID string) (*model.Exam, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, storeError("load exam", err)
	}
	if exam == nil {
		return nil, evaluator.NewError(evaluator.KindNotFound, "exam not found", nil)
	}
	if !canManage(caller, exam) {
		return nil, evaluator.NewError(evaluator.KindForbidden, "only exam staff may do this", nil)
	}
	return exam, nil
}

// canManage reports whether caller is staff for the exam or created it.
func canManage(caller model.CallerIdentity, exam *model.Exam) bool {
	if caller.UserID == "" {
		return false
	}
	if caller.IsStaffFor(exam.InstituteID) {
		return true
	}
	return exam.CreatedBy != "" && exam.CreatedBy == caller.UserID
}

// storeError classifies a store failure.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return evaluator.NewError(evaluator.KindNotFound, op, err)
	case errors.Is(err, store.ErrSessionClosed):
		return evaluator.NewError(evaluator.KindConflict, "session already finished", err)
	case errors.Is(err, store.ErrDuplicate):
		return evaluator.NewError(evaluator.KindConflict, op, err)
	default:
		return evaluator.NewError(evaluator.KindDependencyFailure, op, err)
	}
}
