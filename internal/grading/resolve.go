package grading

import (
	"math"

	"github.com/examhall/examhall/internal/model"
)

// Resolve returns the authoritative correct answer for q. An answer-key entry
// for q.ID wins even when it is empty; otherwise the question's own answer is
// used. ok is false when the result is empty and the question is ungradable.
func Resolve(q model.Question, key map[string]model.Answer) (ans model.Answer, ok bool) {
	if v, found := key[q.ID]; found {
		return v, !v.IsEmpty()
	}
	return q.CorrectAnswer, !q.CorrectAnswer.IsEmpty()
}

// Marks returns the marks awarded for a correct answer. Missing, non-finite
// and non-positive values fall back to 1.
func Marks(q model.Question) float64 {
	if q.Marks == nil {
		return 1
	}
	m := *q.Marks
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return 1
	}
	return m
}

// NegativeMarks returns the deduction for a wrong answer. Missing, non-finite
// and negative values fall back to 0.
func NegativeMarks(q model.Question) float64 {
	if q.NegativeMarks == nil {
		return 0
	}
	n := *q.NegativeMarks
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0
	}
	return n
}
