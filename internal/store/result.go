package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/examhall/examhall/internal/model"
)

const resultColumns = `id, session_id, exam_id, student_id, total_questions, attempted, correct,
	wrong, skipped, total_marks, marks_obtained, percentage, accuracy, section_wise_scores,
	time_taken_seconds, is_published, passed, rank, percentile, evaluated_at, created_at`

func scanResult(row interface{ Scan(...any) error }) (*model.Result, error) {
	var (
		r        model.Result
		sections string
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.ExamID, &r.StudentID, &r.TotalQuestions, &r.Attempted,
		&r.Correct, &r.Wrong, &r.Skipped, &r.TotalMarks, &r.MarksObtained, &r.Percentage,
		&r.Accuracy, &sections, &r.TimeTakenSeconds, &r.IsPublished, &r.Passed, &r.Rank,
		&r.Percentile, &r.EvaluatedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.SectionWiseScores = map[string]model.SectionScore{}
	if err := json.Unmarshal([]byte(sections), &r.SectionWiseScores); err != nil {
		return nil, fmt.Errorf("decode section scores of %s: %w", r.SessionID, err)
	}
	return &r, nil
}

// UpsertResult writes the result for r.SessionID in one statement: it inserts
// a new row or overwrites the evaluated fields of the existing one. id,
// created_at, rank and percentile of an existing row are kept, and a published
// result stays published. The stored row is returned.
func (s *Store) UpsertResult(ctx context.Context, r *model.Result) (*model.Result, error) {
	sections := r.SectionWiseScores
	if sections == nil {
		sections = map[string]model.SectionScore{}
	}
	doc, err := json.Marshal(sections)
	if err != nil {
		return nil, fmt.Errorf("encode section scores: %w", err)
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = r.EvaluatedAt
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO results (id, session_id, exam_id, student_id, total_questions, attempted,
			correct, wrong, skipped, total_marks, marks_obtained, percentage, accuracy,
			section_wise_scores, time_taken_seconds, is_published, passed, evaluated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (session_id) DO UPDATE SET
			exam_id = EXCLUDED.exam_id,
			student_id = EXCLUDED.student_id,
			total_questions = EXCLUDED.total_questions,
			attempted = EXCLUDED.attempted,
			correct = EXCLUDED.correct,
			wrong = EXCLUDED.wrong,
			skipped = EXCLUDED.skipped,
			total_marks = EXCLUDED.total_marks,
			marks_obtained = EXCLUDED.marks_obtained,
			percentage = EXCLUDED.percentage,
			accuracy = EXCLUDED.accuracy,
			section_wise_scores = EXCLUDED.section_wise_scores,
			time_taken_seconds = EXCLUDED.time_taken_seconds,
			is_published = (results.is_published OR EXCLUDED.is_published),
			passed = EXCLUDED.passed,
			evaluated_at = EXCLUDED.evaluated_at
		 RETURNING `+resultColumns,
		id, r.SessionID, r.ExamID, r.StudentID, r.TotalQuestions, r.Attempted,
		r.Correct, r.Wrong, r.Skipped, r.TotalMarks, r.MarksObtained, r.Percentage, r.Accuracy,
		string(doc), r.TimeTakenSeconds, r.IsPublished, r.Passed, r.EvaluatedAt, created,
	)
	stored, err := scanResult(row)
	if err != nil {
		return nil, fmt.Errorf("upsert result for session %s: %w", r.SessionID, err)
	}
	return stored, nil
}

// GetResult returns the result of a session, or nil.
func (s *Store) GetResult(ctx context.Context, sessionID string) (*model.Result, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE session_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", sessionID, err)
	}
	return r, nil
}

// ListResults returns every result of an exam, best first.
func (s *Store) ListResults(ctx context.Context, examID string) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE exam_id = $1
		 ORDER BY marks_obtained DESC, session_id`, examID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var results []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// UpdateStandings writes rank and percentile for results of an exam in one
// transaction. Rows of other exams are never touched.
func (s *Store) UpdateStandings(ctx context.Context, examID string, standings []model.Standing) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE results SET rank = $1, percentile = $2 WHERE session_id = $3 AND exam_id = $4`)
		if err != nil {
			return fmt.Errorf("prepare standings: %w", err)
		}
		defer stmt.Close()
		for _, st := range standings {
			if _, err := stmt.ExecContext(ctx, st.Rank, st.Percentile, st.SessionID, examID); err != nil {
				return fmt.Errorf("update standing of %s: %w", st.SessionID, err)
			}
		}
		return nil
	})
}

// PublishResults marks every result of an exam as visible to students.
func (s *Store) PublishResults(ctx context.Context, examID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE results SET is_published = $1 WHERE exam_id = $2`, true, examID)
	if err != nil {
		return 0, fmt.Errorf("publish results: %w", err)
	}
	return res.RowsAffected()
}
