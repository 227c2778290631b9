package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/examhall/examhall/internal/model"
)

// UpsertExam inserts or replaces an exam. An empty ID gets a fresh UUID.
func (s *Store) UpsertExam(ctx context.Context, e *model.Exam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utcNow()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exams (id, institute_id, created_by, title, duration_minutes,
			negative_marking, show_result_immediately, passing_marks, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			institute_id = EXCLUDED.institute_id,
			created_by = EXCLUDED.created_by,
			title = EXCLUDED.title,
			duration_minutes = EXCLUDED.duration_minutes,
			negative_marking = EXCLUDED.negative_marking,
			show_result_immediately = EXCLUDED.show_result_immediately,
			passing_marks = EXCLUDED.passing_marks`,
		e.ID, e.InstituteID, e.CreatedBy, e.Title, e.DurationMinutes,
		e.NegativeMarking, e.ShowResultImmediately, e.PassingMarks, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert exam %s: %w", e.ID, err)
	}
	return nil
}

const examColumns = `id, institute_id, created_by, title, duration_minutes,
	negative_marking, show_result_immediately, passing_marks, created_at`

func scanExam(row interface{ Scan(...any) error }, e *model.Exam) error {
	return row.Scan(&e.ID, &e.InstituteID, &e.CreatedBy, &e.Title, &e.DurationMinutes,
		&e.NegativeMarking, &e.ShowResultImmediately, &e.PassingMarks, &e.CreatedAt)
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	var e model.Exam
	err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	return &e, nil
}

// ListExams returns all exams, newest first.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+examColumns+` FROM exams ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpsertSection inserts or replaces a section.
func (s *Store) UpsertSection(ctx context.Context, sec *model.Section) error {
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (id, exam_id, name, order_index) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET exam_id = EXCLUDED.exam_id, name = EXCLUDED.name,
			order_index = EXCLUDED.order_index`,
		sec.ID, sec.ExamID, sec.Name, sec.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("upsert section %s: %w", sec.ID, err)
	}
	return nil
}

// ListSections returns the sections of an exam in display order.
func (s *Store) ListSections(ctx context.Context, examID string) ([]model.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, name, order_index FROM sections WHERE exam_id = $1 ORDER BY order_index, id`, examID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.ExamID, &sec.Name, &sec.OrderIndex); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// UpsertQuestion inserts or replaces a question.
func (s *Store) UpsertQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	correct, err := answerJSON(q.CorrectAnswer)
	if err != nil {
		return fmt.Errorf("encode correct answer: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, exam_id, section_id, question_type, question_text,
			correct_answer, marks, negative_marks, order_index)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			exam_id = EXCLUDED.exam_id,
			section_id = EXCLUDED.section_id,
			question_type = EXCLUDED.question_type,
			question_text = EXCLUDED.question_text,
			correct_answer = EXCLUDED.correct_answer,
			marks = EXCLUDED.marks,
			negative_marks = EXCLUDED.negative_marks,
			order_index = EXCLUDED.order_index`,
		q.ID, q.ExamID, nullString(q.SectionID), q.Type, q.Text,
		correct, q.Marks, q.NegativeMarks, q.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("upsert question %s: %w", q.ID, err)
	}
	return nil
}

// ListQuestions returns all questions of an exam in display order.
func (s *Store) ListQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, section_id, question_type, question_text, correct_answer,
			marks, negative_marks, order_index
		 FROM questions WHERE exam_id = $1 ORDER BY order_index, id`, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			section sql.NullString
			correct sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &section, &q.Type, &q.Text, &correct,
			&q.Marks, &q.NegativeMarks, &q.OrderIndex); err != nil {
			return nil, err
		}
		q.SectionID = section.String
		q.CorrectAnswer = parseStoredAnswer(correct, "questions", q.ID)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in an exam.
func (s *Store) QuestionCount(ctx context.Context, examID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&count)
	return count, err
}

// AddAnswerKey stores a new answer-key version for the exam. The version is
// one more than the current maximum and is written back into k.
func (s *Store) AddAnswerKey(ctx context.Context, k *model.AnswerKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = utcNow()
	}
	answers := k.Answers
	if answers == nil {
		answers = map[string]model.Answer{}
	}
	doc, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answer key: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO answer_keys (id, exam_id, version, answers, uploaded_by, created_at)
		 SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5
		 FROM answer_keys WHERE exam_id = $2
		 RETURNING version`,
		k.ID, k.ExamID, string(doc), k.UploadedBy, k.CreatedAt,
	).Scan(&k.Version)
	if isUniqueViolation(err) {
		return fmt.Errorf("add answer key for exam %s: %w", k.ExamID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("add answer key for exam %s: %w", k.ExamID, err)
	}
	return nil
}

// LatestAnswerKey returns the highest-version answer key of an exam, or nil.
func (s *Store) LatestAnswerKey(ctx context.Context, examID string) (*model.AnswerKey, error) {
	var (
		k   model.AnswerKey
		doc string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, version, answers, uploaded_by, created_at
		 FROM answer_keys WHERE exam_id = $1 ORDER BY version DESC LIMIT 1`, examID,
	).Scan(&k.ID, &k.ExamID, &k.Version, &doc, &k.UploadedBy, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest answer key: %w", err)
	}
	k.Answers = decodeKeyAnswers(doc, examID, k.Version)
	return &k, nil
}

// decodeKeyAnswers parses each entry of an answer-key document on its own.
// An unreadable entry stays in the key as empty, so the question still
// ignores its stored answer and grades as ungradable.
func decodeKeyAnswers(doc, examID string, version int) map[string]model.Answer {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		slog.Warn("unreadable answer key, ignoring it", "exam_id", examID, "version", version, "error", err)
		return map[string]model.Answer{}
	}
	answers := make(map[string]model.Answer, len(raw))
	for qid, v := range raw {
		a, err := model.ParseAnswer(v)
		if err != nil {
			slog.Warn("unreadable answer key entry", "exam_id", examID, "version", version,
				"question_id", qid, "error", err)
			a = model.Empty()
		}
		answers[qid] = a
	}
	return answers
}
