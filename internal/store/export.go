package store

import (
	"context"
	"fmt"

	"github.com/examhall/examhall/internal/grading"
	"github.com/examhall/examhall/internal/model"
)

// ExportExam builds the export document for an exam: one entry per session
// in start order, with its evaluated result when there is one. It returns
// (nil, nil) if the exam does not exist.
func (s *Store) ExportExam(ctx context.Context, examID string) (*model.ExamExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam == nil {
		return nil, nil
	}
	questions, err := s.ListQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.ListSessions(ctx, examID)
	if err != nil {
		return nil, err
	}
	results, err := s.ListResults(ctx, examID)
	if err != nil {
		return nil, err
	}
	bySession := make(map[string]model.Result, len(results))
	for _, r := range results {
		bySession[r.SessionID] = r
	}

	out := &model.ExamExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		ExportedAt:   utcNow(),
		NumQuestions: len(questions),
		PassingMarks: exam.PassingMarks,
		Results:      []model.StudentResult{},
	}
	for _, q := range questions {
		out.TotalMarks += grading.Marks(q)
	}

	// Track session count per student for session_number.
	studentSessionCount := make(map[string]int)
	users := make(map[string]*model.User)

	for _, sess := range sessions {
		studentSessionCount[sess.StudentID]++

		user, ok := users[sess.StudentID]
		if !ok {
			user, err = s.GetUserByID(ctx, sess.StudentID)
			if err != nil {
				return nil, fmt.Errorf("get user %s: %w", sess.StudentID, err)
			}
			users[sess.StudentID] = user
		}

		sr := model.StudentResult{
			StudentID:     sess.StudentID,
			SessionID:     sess.ID,
			SessionNumber: studentSessionCount[sess.StudentID],
			Status:        sess.Status,
			StartTime:     sess.StartTime,
			EndTime:       sess.EndTime,
		}
		if user != nil {
			sr.Username = user.Username
			sr.DisplayName = user.DisplayName
		}
		if r, ok := bySession[sess.ID]; ok {
			sr.MarksObtained = r.MarksObtained
			sr.Percentage = r.Percentage
			sr.Accuracy = r.Accuracy
			sr.Correct = r.Correct
			sr.Wrong = r.Wrong
			sr.Skipped = r.Skipped
			sr.Passed = r.Passed
			sr.Rank = r.Rank
			sr.Percentile = r.Percentile
			sr.SectionWiseScores = r.SectionWiseScores
		}
		out.Results = append(out.Results, sr)
	}
	return out, nil
}
