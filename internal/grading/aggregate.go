package grading

import (
	"math"
	"slices"
	"strings"

	"github.com/examhall/examhall/internal/model"
)

// Input is everything Aggregate needs for one session.
type Input struct {
	Questions       []model.Question
	Responses       map[string]model.Response // keyed by question ID
	AnswerKey       map[string]model.Answer   // latest answer-key version, may be nil
	NegativeMarking bool
}

// QuestionOutcome records how one question was graded.
type QuestionOutcome struct {
	QuestionID string
	SectionID  string
	Status     Status
	Delta      float64
	Ungradable bool // no correct answer configured
}

// Tally is the aggregate over all questions of a session.
type Tally struct {
	TotalQuestions int
	Attempted      int
	Correct        int
	Wrong          int
	Skipped        int
	TotalMarks     float64
	MarksObtained  float64
	Percentage     float64
	Accuracy       float64
	Sections       map[string]model.SectionScore
	Outcomes       []QuestionOutcome
}

// Aggregate grades every question and accumulates totals and section subtotals.
//
// Questions are processed in ID order so floating-point sums do not depend on
// the order the caller loaded them in. Negative marks are applied without
// clamping, to the total and to the section bucket.
func (g *Grader) Aggregate(in Input) Tally {
	qs := slices.Clone(in.Questions)
	slices.SortStableFunc(qs, func(a, b model.Question) int { return strings.Compare(a.ID, b.ID) })

	t := Tally{
		TotalQuestions: len(qs),
		Sections:       make(map[string]model.SectionScore),
		Outcomes:       make([]QuestionOutcome, 0, len(qs)),
	}

	for _, q := range qs {
		marks := Marks(q)
		t.TotalMarks += marks

		section := q.SectionID
		if section == "" {
			section = model.DefaultSection
		}
		bucket := t.Sections[section]
		bucket.Total += marks

		correct, gradable := Resolve(q, in.AnswerKey)
		selected := in.Responses[q.ID].SelectedAnswer
		out := QuestionOutcome{
			QuestionID: q.ID,
			SectionID:  section,
			Status:     g.Grade(q.Type, selected, correct),
			Ungradable: !gradable,
		}

		switch out.Status {
		case Unattempted:
			t.Skipped++
		case Correct:
			t.Attempted++
			t.Correct++
			t.MarksObtained += marks
			bucket.Correct++
			bucket.Marks += marks
			out.Delta = marks
		case Incorrect:
			t.Attempted++
			t.Wrong++
			bucket.Wrong++
			if neg := NegativeMarks(q); in.NegativeMarking && neg > 0 {
				t.MarksObtained -= neg
				bucket.Marks -= neg
				out.Delta = -neg
			}
		}

		t.Sections[section] = bucket
		t.Outcomes = append(t.Outcomes, out)
	}

	if t.TotalMarks > 0 {
		t.Percentage = Round2(t.MarksObtained / t.TotalMarks * 100)
	}
	if t.Attempted > 0 {
		t.Accuracy = Round2(float64(t.Correct) / float64(t.Attempted) * 100)
	}
	return t
}

// Round2 rounds to two decimals with halves going toward positive infinity.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
