// Package grading decides per-question outcomes and aggregates them into a
// result. Everything here is pure and in-memory.
package grading

import (
	"math"
	"slices"

	"github.com/examhall/examhall/internal/model"
)

// DefaultTolerance is the absolute tolerance for numerical questions.
const DefaultTolerance = 0.001

// Status is the outcome of grading one question.
type Status int

const (
	Unattempted Status = iota
	Correct
	Incorrect
)

func (s Status) String() string {
	switch s {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "unattempted"
	}
}

// Strategy decides whether a non-empty selected answer matches a non-empty
// correct answer for one question type.
type Strategy interface {
	Match(selected, correct model.Answer) bool
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(selected, correct model.Answer) bool

// Match calls f.
func (f StrategyFunc) Match(selected, correct model.Answer) bool { return f(selected, correct) }

// Grader routes by question type to the matching Strategy.
type Grader struct {
	strategies map[model.QuestionType]Strategy
}

// Option configures a Grader.
type Option func(*config)

type config struct {
	tolerance float64
	extra     map[model.QuestionType]Strategy
}

// WithTolerance overrides the numerical tolerance.
func WithTolerance(tol float64) Option { return func(c *config) { c.tolerance = tol } }

// WithStrategy installs or replaces the strategy for a question type.
func WithStrategy(t model.QuestionType, s Strategy) Option {
	return func(c *config) { c.extra[t] = s }
}

// New returns a Grader with the built-in strategies installed.
func New(opts ...Option) *Grader {
	cfg := &config{tolerance: DefaultTolerance, extra: map[model.QuestionType]Strategy{}}
	for _, o := range opts {
		o(cfg)
	}
	g := &Grader{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionSingleCorrect:   singleStrategy{},
			model.QuestionTrueFalse:       singleStrategy{},
			model.QuestionMultipleCorrect: multipleStrategy{},
			model.QuestionNumerical:       numericStrategy{tolerance: cfg.tolerance},
		},
	}
	for t, s := range cfg.extra {
		g.strategies[t] = s
	}
	return g
}

// Grade decides the status of one question. An empty selection is always
// unattempted. A missing correct answer or an unknown question type grades any
// attempt as incorrect, so unconfigured questions never award marks.
func (g *Grader) Grade(t model.QuestionType, selected, correct model.Answer) Status {
	if selected.IsEmpty() {
		return Unattempted
	}
	if correct.IsEmpty() {
		return Incorrect
	}
	s, ok := g.strategies[t]
	if !ok {
		return Incorrect
	}
	if s.Match(selected, correct) {
		return Correct
	}
	return Incorrect
}

// --- Strategies ---

type singleStrategy struct{}

func (singleStrategy) Match(selected, correct model.Answer) bool {
	return selected.String() == correct.String()
}

type multipleStrategy struct{}

func (multipleStrategy) Match(selected, correct model.Answer) bool {
	a := selected.Values()
	b := correct.Values()
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

type numericStrategy struct{ tolerance float64 }

func (s numericStrategy) Match(selected, correct model.Answer) bool {
	sv, ok := selected.Float()
	if !ok {
		return false
	}
	cv, ok := correct.Float()
	if !ok {
		return false
	}
	return math.Abs(sv-cv) < s.tolerance
}
