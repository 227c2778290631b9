// Package evaluator turns a finished exam session into a stored Result.
//
// Evaluate validates the request, authorizes the caller, loads the session's
// inputs through a Repository, grades them and upserts the Result. Store calls
// are the only blocking steps and each runs under its own timeout; grading is
// pure. Re-running Evaluate on the same session converges on one Result row.
package evaluator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examhall/examhall/internal/grading"
	"github.com/examhall/examhall/internal/metrics"
	"github.com/examhall/examhall/internal/model"
)

// DefaultStoreTimeout bounds each individual store call.
const DefaultStoreTimeout = 10 * time.Second

// Repository is the persistence the evaluator reads from and writes to.
// Reads return nil values without error when a record does not exist.
type Repository interface {
	GetSessionWithExam(ctx context.Context, sessionID string) (*model.Session, *model.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]model.Question, error)
	LatestAnswerKey(ctx context.Context, examID string) (*model.AnswerKey, error)
	ListResponses(ctx context.Context, sessionID string) ([]model.Response, error)
	// UpsertResult writes r atomically keyed by session and returns the stored row.
	UpsertResult(ctx context.Context, r *model.Result) (*model.Result, error)
}

// Service evaluates sessions.
type Service struct {
	repo    Repository
	grader  *grading.Grader
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGrader replaces the default grader.
func WithGrader(g *grading.Grader) Option { return func(s *Service) { s.grader = g } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics records evaluation outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithStoreTimeout bounds each store call. Zero or negative disables the bound.
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithClock overrides the time source for evaluated_at.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service.
func New(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		grader:  grading.New(),
		logger:  slog.Default(),
		timeout: DefaultStoreTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Evaluate grades the session and persists its Result.
func (s *Service) Evaluate(ctx context.Context, sessionID string, caller model.CallerIdentity) (*model.Evaluation, error) {
	start := time.Now()
	ev, ungradable, err := s.evaluate(ctx, sessionID, caller)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	s.metrics.ObserveEvaluation(outcome, time.Since(start), ungradable)

	if err != nil {
		level := slog.LevelWarn
		if KindOf(err) == KindDependencyFailure {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "evaluation failed",
			"session_id", sessionID, "caller", caller.UserID, "error", err)
		return nil, err
	}
	s.logger.Info("session evaluated",
		"session_id", sessionID,
		"marks", ev.Result.MarksObtained,
		"total", ev.Result.TotalMarks,
		"ungradable", ungradable,
		"duration", time.Since(start))
	return ev, nil
}

func (s *Service) evaluate(ctx context.Context, sessionID string, caller model.CallerIdentity) (*model.Evaluation, int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, 0, invalidRequest("sessionId is required")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, 0, invalidRequest("sessionId is not a valid id")
	}

	var (
		sess *model.Session
		exam *model.Exam
	)
	err := s.call(ctx, func(ctx context.Context) (err error) {
		sess, exam, err = s.repo.GetSessionWithExam(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, 0, dependency("load session", err)
	}
	if sess == nil || exam == nil {
		return nil, 0, notFound("session not found")
	}

	if !CanEvaluate(caller, sess, exam) {
		return nil, 0, forbidden("caller may not evaluate this session")
	}

	var questions []model.Question
	if err := s.call(ctx, func(ctx context.Context) (err error) {
		questions, err = s.repo.ListQuestions(ctx, exam.ID)
		return err
	}); err != nil {
		return nil, 0, dependency("load questions", err)
	}

	var key *model.AnswerKey
	if err := s.call(ctx, func(ctx context.Context) (err error) {
		key, err = s.repo.LatestAnswerKey(ctx, exam.ID)
		return err
	}); err != nil {
		return nil, 0, dependency("load answer key", err)
	}

	var responses []model.Response
	if err := s.call(ctx, func(ctx context.Context) (err error) {
		responses, err = s.repo.ListResponses(ctx, sess.ID)
		return err
	}); err != nil {
		return nil, 0, dependency("load responses", err)
	}

	byQuestion := make(map[string]model.Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}
	in := grading.Input{
		Questions:       questions,
		Responses:       byQuestion,
		NegativeMarking: exam.NegativeMarking,
	}
	if key != nil {
		in.AnswerKey = key.Answers
	}
	tally := s.grader.Aggregate(in)

	ungradable := 0
	for _, o := range tally.Outcomes {
		if o.Ungradable && o.Status != grading.Unattempted {
			ungradable++
			s.logger.Debug("attempted question has no correct answer",
				"session_id", sess.ID, "question_id", o.QuestionID)
		}
	}

	res := buildResult(sess, exam, tally, s.now().UTC())

	var stored *model.Result
	if err := s.call(ctx, func(ctx context.Context) (err error) {
		stored, err = s.repo.UpsertResult(ctx, res)
		return err
	}); err != nil {
		return nil, ungradable, dependency("store result", err)
	}
	return &model.Evaluation{Result: *stored, Summary: stored.Summarize()}, ungradable, nil
}

// call runs fn under the per-call store timeout.
func (s *Service) call(ctx context.Context, fn func(context.Context) error) error {
	if s.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

func buildResult(sess *model.Session, exam *model.Exam, t grading.Tally, now time.Time) *model.Result {
	r := &model.Result{
		SessionID:         sess.ID,
		ExamID:            exam.ID,
		StudentID:         sess.StudentID,
		TotalQuestions:    t.TotalQuestions,
		Attempted:         t.Attempted,
		Correct:           t.Correct,
		Wrong:             t.Wrong,
		Skipped:           t.Skipped,
		TotalMarks:        t.TotalMarks,
		MarksObtained:     t.MarksObtained,
		Percentage:        t.Percentage,
		Accuracy:          t.Accuracy,
		SectionWiseScores: t.Sections,
		TimeTakenSeconds:  TimeTaken(sess),
		IsPublished:       exam.ShowResultImmediately,
		EvaluatedAt:       now,
	}
	if exam.PassingMarks != nil {
		passed := t.MarksObtained >= *exam.PassingMarks
		r.Passed = &passed
	}
	return r
}

// TimeTaken returns whole seconds between start and end. It is 0 when either
// end is missing or the clock went backwards.
func TimeTaken(sess *model.Session) int64 {
	if sess.EndTime == nil || sess.StartTime.IsZero() {
		return 0
	}
	d := sess.EndTime.Sub(sess.StartTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// CanEvaluate reports whether caller may evaluate or read results of sess:
// the owning student, staff scoped to the exam's institute, or the exam's
// creator.
func CanEvaluate(caller model.CallerIdentity, sess *model.Session, exam *model.Exam) bool {
	if caller.UserID == "" {
		return false
	}
	if caller.UserID == sess.StudentID {
		return true
	}
	if caller.IsStaffFor(exam.InstituteID) {
		return true
	}
	return exam.CreatedBy != "" && caller.UserID == exam.CreatedBy
}
