package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title"`
	ExportedAt   time.Time       `json:"exported_at"`
	NumQuestions int             `json:"num_questions"`
	TotalMarks   float64         `json:"total_marks"`
	PassingMarks *float64        `json:"passing_marks,omitempty"`
	Results      []StudentResult `json:"results"`
}

// StudentResult holds one student's evaluated session for export.
type StudentResult struct {
	StudentID         string                  `json:"student_id"`
	Username          string                  `json:"username,omitempty"`
	DisplayName       string                  `json:"display_name,omitempty"`
	SessionID         string                  `json:"session_id"`
	SessionNumber     int                     `json:"session_number"`
	Status            SessionStatus           `json:"status"`
	StartTime         time.Time               `json:"start_time"`
	EndTime           *time.Time              `json:"end_time,omitempty"`
	MarksObtained     float64                 `json:"marks_obtained"`
	Percentage        float64                 `json:"percentage"`
	Accuracy          float64                 `json:"accuracy"`
	Correct           int                     `json:"correct"`
	Wrong             int                     `json:"wrong"`
	Skipped           int                     `json:"skipped"`
	Passed            *bool                   `json:"passed,omitempty"`
	Rank              *int                    `json:"rank,omitempty"`
	Percentile        *float64                `json:"percentile,omitempty"`
	SectionWiseScores map[string]SectionScore `json:"section_wise_scores"`
}
