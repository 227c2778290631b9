package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/examhall/examhall/internal/model"
)

const sessionColumns = `id, exam_id, student_id, status, start_time, end_time`

func scanSession(row interface{ Scan(...any) error }, sess *model.Session) error {
	return row.Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.StartTime, &sess.EndTime)
}

// StartSession creates an in-progress session for a student.
func (s *Store) StartSession(ctx context.Context, examID, studentID string) (*model.Session, error) {
	sess := &model.Session{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.StatusInProgress,
		StartTime: utcNow(),
	}
	if err := s.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// InsertSession stores a session as given. The importer uses it to load
// sessions that already finished elsewhere.
func (s *Store) InsertSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, exam_id, student_id, status, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.ExamID, sess.StudentID, sess.Status, sess.StartTime, sess.EndTime,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert session %s: %w", sess.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id), &sess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// GetSessionWithExam returns a session and its exam in one query.
func (s *Store) GetSessionWithExam(ctx context.Context, id string) (*model.Session, *model.Exam, error) {
	var (
		sess model.Session
		e    model.Exam
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.exam_id, s.student_id, s.status, s.start_time, s.end_time,
			e.id, e.institute_id, e.created_by, e.title, e.duration_minutes,
			e.negative_marking, e.show_result_immediately, e.passing_marks, e.created_at
		 FROM exam_sessions s JOIN exams e ON e.id = s.exam_id
		 WHERE s.id = $1`, id,
	).Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.StartTime, &sess.EndTime,
		&e.ID, &e.InstituteID, &e.CreatedBy, &e.Title, &e.DurationMinutes,
		&e.NegativeMarking, &e.ShowResultImmediately, &e.PassingMarks, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get session %s with exam: %w", id, err)
	}
	return &sess, &e, nil
}

// FinishSession moves an in-progress session to a terminal status and sets
// end_time in the same statement. It returns ErrSessionClosed if the session
// had already left in_progress, and (nil, nil) if it does not exist.
func (s *Store) FinishSession(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish session: %q is not a terminal status", status)
	}
	var sess model.Session
	err := scanSession(s.db.QueryRowContext(ctx,
		`UPDATE exam_sessions SET status = $1, end_time = $2
		 WHERE id = $3 AND status = $4
		 RETURNING `+sessionColumns,
		status, utcNow(), id, model.StatusInProgress,
	), &sess)
	if errors.Is(err, sql.ErrNoRows) {
		existing, gerr := s.GetSession(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, nil
		}
		return existing, ErrSessionClosed
	}
	if err != nil {
		return nil, fmt.Errorf("finish session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns the sessions of an exam, oldest first.
func (s *Store) ListSessions(ctx context.Context, examID string) ([]model.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = $1 ORDER BY start_time, id`, examID)
}

// ListTerminalSessions returns the finished sessions of an exam.
func (s *Store) ListTerminalSessions(ctx context.Context, examID string) ([]model.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND status IN ($2, $3, $4) ORDER BY start_time, id`,
		examID, model.StatusSubmitted, model.StatusAutoSubmitted, model.StatusTerminated)
}

// ListExpiredSessions returns in-progress sessions whose exam duration ran
// out before now. Exams without a duration never expire.
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.exam_id, s.student_id, s.status, s.start_time, s.end_time, e.duration_minutes
		 FROM exam_sessions s JOIN exams e ON e.id = s.exam_id
		 WHERE s.status = $1 AND e.duration_minutes > 0`, model.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	var expired []model.Session
	for rows.Next() {
		var (
			sess     model.Session
			duration int
		)
		if err := rows.Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.StartTime, &sess.EndTime, &duration); err != nil {
			return nil, err
		}
		if now.After(sess.StartTime.Add(time.Duration(duration) * time.Minute)) {
			expired = append(expired, sess)
		}
	}
	return expired, rows.Err()
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveResponse records a student's answer. Only in-progress sessions accept
// writes; a later save for the same question replaces the earlier one.
func (s *Store) SaveResponse(ctx context.Context, r *model.Response) error {
	if r.AnsweredAt == nil {
		now := utcNow()
		r.AnsweredAt = &now
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status   model.SessionStatus
			matching int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT s.status,
				(SELECT COUNT(*) FROM questions q WHERE q.id = $2 AND q.exam_id = s.exam_id)
			 FROM exam_sessions s WHERE s.id = $1`, r.SessionID, r.QuestionID,
		).Scan(&status, &matching)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("save response: session %s: %w", r.SessionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("save response: %w", err)
		}
		if matching == 0 {
			return fmt.Errorf("save response: question %s: %w", r.QuestionID, ErrNotFound)
		}
		if status != model.StatusInProgress {
			return ErrSessionClosed
		}
		return upsertResponse(ctx, tx, r)
	})
}

// ImportResponse stores a response without checking the session status.
func (s *Store) ImportResponse(ctx context.Context, r *model.Response) error {
	return upsertResponse(ctx, s.db, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertResponse(ctx context.Context, db execer, r *model.Response) error {
	selected, err := answerJSON(r.SelectedAnswer)
	if err != nil {
		return fmt.Errorf("encode selected answer: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO responses (session_id, question_id, selected_answer, is_marked_for_review,
			time_spent_seconds, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
			selected_answer = EXCLUDED.selected_answer,
			is_marked_for_review = EXCLUDED.is_marked_for_review,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			answered_at = EXCLUDED.answered_at`,
		r.SessionID, r.QuestionID, selected, r.IsMarkedForReview, r.TimeSpentSeconds, r.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response %s/%s: %w", r.SessionID, r.QuestionID, err)
	}
	return nil
}

// ListResponses returns all responses of a session.
func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, question_id, selected_answer, is_marked_for_review, time_spent_seconds, answered_at
		 FROM responses WHERE session_id = $1 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	var responses []model.Response
	for rows.Next() {
		var (
			r        model.Response
			selected sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &r.QuestionID, &selected, &r.IsMarkedForReview,
			&r.TimeSpentSeconds, &r.AnsweredAt); err != nil {
			return nil, err
		}
		r.SelectedAnswer = parseStoredAnswer(selected, "responses", r.SessionID+"/"+r.QuestionID)
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
