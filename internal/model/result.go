package model

import "time"

// SectionScore is the per-section subtotal of a result.
type SectionScore struct {
	Correct int     `json:"correct"`
	Wrong   int     `json:"wrong"`
	Marks   float64 `json:"marks"`
	Total   float64 `json:"total"`
}

// Result is the evaluator's output for one session.
//
// MarksObtained and section marks are not clamped at zero: negative marking
// can drive them below zero.
type Result struct {
	ID                string                  `json:"id"`
	SessionID         string                  `json:"session_id"`
	ExamID            string                  `json:"exam_id"`
	StudentID         string                  `json:"student_id"`
	TotalQuestions    int                     `json:"total_questions"`
	Attempted         int                     `json:"attempted"`
	Correct           int                     `json:"correct"`
	Wrong             int                     `json:"wrong"`
	Skipped           int                     `json:"skipped"`
	TotalMarks        float64                 `json:"total_marks"`
	MarksObtained     float64                 `json:"marks_obtained"`
	Percentage        float64                 `json:"percentage"`
	Accuracy          float64                 `json:"accuracy"`
	SectionWiseScores map[string]SectionScore `json:"section_wise_scores"`
	TimeTakenSeconds  int64                   `json:"time_taken_seconds"`
	// IsPublished starts as the exam's ShowResultImmediately at evaluation
	// time. Once set, by that or by publishing standings, it stays set.
	IsPublished       bool                    `json:"is_published"`
	Passed            *bool                   `json:"passed,omitempty"`
	Rank              *int                    `json:"rank,omitempty"`
	Percentile        *float64                `json:"percentile,omitempty"`
	EvaluatedAt       time.Time               `json:"evaluated_at"`
	CreatedAt         time.Time               `json:"created_at"`
}

// Summary is the compact projection returned alongside a fresh evaluation.
type Summary struct {
	TotalQuestions int     `json:"totalQuestions"`
	Attempted      int     `json:"attempted"`
	Correct        int     `json:"correct"`
	Wrong          int     `json:"wrong"`
	Skipped        int     `json:"skipped"`
	MarksObtained  float64 `json:"marksObtained"`
	TotalMarks     float64 `json:"totalMarks"`
	Percentage     float64 `json:"percentage"`
	Accuracy       float64 `json:"accuracy"`
}

// Summarize projects r onto a Summary.
func (r Result) Summarize() Summary {
	return Summary{
		TotalQuestions: r.TotalQuestions,
		Attempted:      r.Attempted,
		Correct:        r.Correct,
		Wrong:          r.Wrong,
		Skipped:        r.Skipped,
		MarksObtained:  r.MarksObtained,
		TotalMarks:     r.TotalMarks,
		Percentage:     r.Percentage,
		Accuracy:       r.Accuracy,
	}
}

// Evaluation is what an evaluate call returns: the stored result and its summary.
type Evaluation struct {
	Result  Result  `json:"result"`
	Summary Summary `json:"summary"`
}

// Standing is the rank and percentile of one session's result within its exam.
type Standing struct {
	SessionID  string  `json:"session_id"`
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile"`
}
