package model

import (
	"context"
	"time"
)

// UserRole is an access role granted to a user, optionally scoped to an institute.
type UserRole string

const (
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher authors and grades exams of one institute.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleInstituteAdmin manages one institute.
	UserRoleInstituteAdmin UserRole = "institute_admin"
	// UserRoleSuperAdmin has platform-wide access.
	UserRoleSuperAdmin UserRole = "super_admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleStudent, UserRoleTeacher, UserRoleInstituteAdmin, UserRoleSuperAdmin:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// RoleGrant is one row of user_roles. InstituteID is empty for platform-wide grants.
type RoleGrant struct {
	Role        UserRole `json:"role"`
	InstituteID string   `json:"institute_id,omitempty"`
}

// CallerIdentity is who is asking. It is always passed explicitly to the
// evaluator; request context only carries it between middleware and handler.
type CallerIdentity struct {
	UserID string      `json:"user_id"`
	Roles  []RoleGrant `json:"roles"`
}

// HasRole reports whether the caller holds role, for any institute.
func (c CallerIdentity) HasRole(role UserRole) bool {
	for _, g := range c.Roles {
		if g.Role == role {
			return true
		}
	}
	return false
}

// IsStaffFor reports whether the caller may act on data of the given institute:
// super admins everywhere, teachers and institute admins only inside their own
// institute. An empty institute never matches a scoped grant.
func (c CallerIdentity) IsStaffFor(instituteID string) bool {
	for _, g := range c.Roles {
		switch g.Role {
		case UserRoleSuperAdmin:
			return true
		case UserRoleInstituteAdmin, UserRoleTeacher:
			if instituteID != "" && g.InstituteID == instituteID {
				return true
			}
		}
	}
	return false
}

type callerCtxKey struct{}

// ContextWithCaller stores the authenticated caller in the request context.
func ContextWithCaller(ctx context.Context, c CallerIdentity) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, c)
}

// CallerFromContext retrieves the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (CallerIdentity, bool) {
	c, ok := ctx.Value(callerCtxKey{}).(CallerIdentity)
	return c, ok
}

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusInProgress    SessionStatus = "in_progress"
	StatusSubmitted     SessionStatus = "submitted"
	StatusAutoSubmitted SessionStatus = "auto_submitted"
	StatusTerminated    SessionStatus = "terminated"
)

// Terminal reports whether the session has ended.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusAutoSubmitted, StatusTerminated:
		return true
	}
	return false
}

// QuestionType selects the grading rule for a question.
type QuestionType string

const (
	QuestionSingleCorrect   QuestionType = "single_correct"
	QuestionMultipleCorrect QuestionType = "multiple_correct"
	QuestionNumerical       QuestionType = "numerical"
	QuestionTrueFalse       QuestionType = "true_false"
)

// DefaultSection is the bucket for questions without a section.
const DefaultSection = "default"

// Exam holds the exam-level settings the evaluator reads.
type Exam struct {
	ID                    string    `json:"id"`
	InstituteID           string    `json:"institute_id,omitempty"`
	CreatedBy             string    `json:"created_by,omitempty"`
	Title                 string    `json:"title"`
	DurationMinutes       int       `json:"duration_minutes"`
	NegativeMarking       bool      `json:"negative_marking"`
	ShowResultImmediately bool      `json:"show_result_immediately"`
	PassingMarks          *float64  `json:"passing_marks,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Section is a named grouping of questions within an exam.
type Section struct {
	ID         string `json:"id"`
	ExamID     string `json:"exam_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
}

// Question is one gradable item. Marks and NegativeMarks are nil when the
// stored value is missing; grading applies the defaults.
type Question struct {
	ID            string       `json:"id"`
	ExamID        string       `json:"exam_id"`
	SectionID     string       `json:"section_id,omitempty"`
	Type          QuestionType `json:"question_type"`
	Text          string       `json:"question_text"`
	CorrectAnswer Answer       `json:"correct_answer"`
	Marks         *float64     `json:"marks,omitempty"`
	NegativeMarks *float64     `json:"negative_marks,omitempty"`
	OrderIndex    int          `json:"order_index"`
}

// AnswerKey is one version of the teacher-maintained override of correct answers.
type AnswerKey struct {
	ID         string            `json:"id"`
	ExamID     string            `json:"exam_id"`
	Version    int               `json:"version"`
	Answers    map[string]Answer `json:"answers"`
	UploadedBy string            `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Session is one student's attempt at one exam.
type Session struct {
	ID        string        `json:"id"`
	ExamID    string        `json:"exam_id"`
	StudentID string        `json:"student_id"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
}

// Response is a student's answer to one question within one session.
type Response struct {
	SessionID         string     `json:"session_id"`
	QuestionID        string     `json:"question_id"`
	SelectedAnswer    Answer     `json:"selected_answer"`
	IsMarkedForReview bool       `json:"is_marked_for_review"`
	TimeSpentSeconds  int        `json:"time_spent_seconds"`
	AnsweredAt        *time.Time `json:"answered_at,omitempty"`
}
