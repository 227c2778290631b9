package grading

import (
	"testing"

	"github.com/examhall/examhall/internal/model"
)

func TestGrade(t *testing.T) {
	g := New()

	tests := []struct {
		name     string
		qt       model.QuestionType
		selected model.Answer
		correct  model.Answer
		want     Status
	}{
		{"single match", model.QuestionSingleCorrect, model.Single("opt1"), model.Single("opt1"), Correct},
		{"single mismatch", model.QuestionSingleCorrect, model.Single("opt4"), model.Single("opt3"), Incorrect},
		{"single is case sensitive", model.QuestionSingleCorrect, model.Single("a"), model.Single("A"), Incorrect},
		{"single number vs string", model.QuestionSingleCorrect, model.Numeric(2), model.Single("2"), Correct},
		{"single one-element list", model.QuestionSingleCorrect, model.Multiple("B"), model.Single("B"), Correct},
		{"true_false", model.QuestionTrueFalse, model.Single("true"), model.Single("true"), Correct},
		{"true_false wrong", model.QuestionTrueFalse, model.Single("false"), model.Single("true"), Incorrect},

		{"multi order independent", model.QuestionMultipleCorrect, model.Multiple("B", "A"), model.Multiple("A", "B"), Correct},
		{"multi subset", model.QuestionMultipleCorrect, model.Multiple("A"), model.Multiple("A", "B"), Incorrect},
		{"multi superset", model.QuestionMultipleCorrect, model.Multiple("A", "B", "C"), model.Multiple("A", "B"), Incorrect},
		{"multi duplicates count", model.QuestionMultipleCorrect, model.Multiple("A", "A"), model.Multiple("A"), Incorrect},
		{"multi scalar selection", model.QuestionMultipleCorrect, model.Single("A"), model.Multiple("A"), Correct},
		{"multi scalar key", model.QuestionMultipleCorrect, model.Multiple("C"), model.Single("C"), Correct},

		{"numeric inside tolerance", model.QuestionNumerical, model.Numeric(5.0005), model.Numeric(5.0), Correct},
		{"numeric outside tolerance", model.QuestionNumerical, model.Numeric(5.002), model.Numeric(5.0), Incorrect},
		{"numeric from strings", model.QuestionNumerical, model.Single("3.14"), model.Single("3.1400"), Correct},
		{"numeric negative", model.QuestionNumerical, model.Numeric(-2), model.Numeric(-2.0004), Correct},
		{"numeric zero attempted", model.QuestionNumerical, model.Numeric(0), model.Numeric(0), Correct},
		{"numeric unparseable selection", model.QuestionNumerical, model.Single("five"), model.Numeric(5), Incorrect},
		{"numeric unparseable key", model.QuestionNumerical, model.Numeric(5), model.Single("n/a"), Incorrect},

		{"empty selection", model.QuestionSingleCorrect, model.Empty(), model.Single("A"), Unattempted},
		{"empty list selection", model.QuestionMultipleCorrect, model.Multiple(), model.Multiple("A"), Unattempted},
		{"empty numeric selection", model.QuestionNumerical, model.Empty(), model.Numeric(1), Unattempted},
		{"no correct answer", model.QuestionSingleCorrect, model.Single("A"), model.Empty(), Incorrect},
		{"no correct answer unattempted", model.QuestionSingleCorrect, model.Empty(), model.Empty(), Unattempted},
		{"unknown type", model.QuestionType("essay"), model.Single("A"), model.Single("A"), Incorrect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Grade(tt.qt, tt.selected, tt.correct)
			if got != tt.want {
				t.Errorf("Grade(%s, %v, %v) = %v, want %v", tt.qt, tt.selected, tt.correct, got, tt.want)
			}
		})
	}
}

func TestGraderOptions(t *testing.T) {
	t.Run("tolerance", func(t *testing.T) {
		g := New(WithTolerance(0.01))
		if got := g.Grade(model.QuestionNumerical, model.Numeric(5.005), model.Numeric(5)); got != Correct {
			t.Errorf("expected correct with widened tolerance, got %v", got)
		}
	})

	t.Run("custom strategy", func(t *testing.T) {
		always := StrategyFunc(func(_, _ model.Answer) bool { return true })
		g := New(WithStrategy("essay", always))
		if got := g.Grade("essay", model.Single("anything"), model.Single("x")); got != Correct {
			t.Errorf("expected custom strategy to be used, got %v", got)
		}
		// Fail-closed still applies before the strategy runs.
		if got := g.Grade("essay", model.Single("anything"), model.Empty()); got != Incorrect {
			t.Errorf("expected incorrect without a correct answer, got %v", got)
		}
	})
}

func TestResolve(t *testing.T) {
	q := model.Question{ID: "q1", CorrectAnswer: model.Single("A")}

	tests := []struct {
		name   string
		q      model.Question
		key    map[string]model.Answer
		want   model.Answer
		wantOK bool
	}{
		{"no key", q, nil, model.Single("A"), true},
		{"key overrides", q, map[string]model.Answer{"q1": model.Single("B")}, model.Single("B"), true},
		{"key for other question", q, map[string]model.Answer{"q2": model.Single("B")}, model.Single("A"), true},
		{"explicit empty entry wins", q, map[string]model.Answer{"q1": model.Empty()}, model.Empty(), false},
		{"nothing configured", model.Question{ID: "q3"}, nil, model.Empty(), false},
		{"key fills missing answer", model.Question{ID: "q3"}, map[string]model.Answer{"q3": model.Numeric(4)}, model.Numeric(4), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.q, tt.key)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Errorf("Resolve() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMarksDefaults(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		marks   *float64
		neg     *float64
		wantM   float64
		wantNeg float64
	}{
		{"missing", nil, nil, 1, 0},
		{"explicit", f(4), f(1), 4, 1},
		{"zero marks", f(0), f(0), 1, 0},
		{"negative values", f(-2), f(-1), 1, 0},
		{"fractional", f(0.5), f(0.25), 0.5, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := model.Question{Marks: tt.marks, NegativeMarks: tt.neg}
			if got := Marks(q); got != tt.wantM {
				t.Errorf("Marks() = %v, want %v", got, tt.wantM)
			}
			if got := NegativeMarks(q); got != tt.wantNeg {
				t.Errorf("NegativeMarks() = %v, want %v", got, tt.wantNeg)
			}
		})
	}
}
