package ranking

import (
	"testing"

	"github.com/examhall/examhall/internal/model"
)

func res(id string, marks float64) model.Result {
	return model.Result{SessionID: id, MarksObtained: marks}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		results []model.Result
		want    []model.Standing
	}{
		{"empty", nil, nil},
		{
			"single",
			[]model.Result{res("a", 3)},
			[]model.Standing{{SessionID: "a", Rank: 1, Percentile: 100}},
		},
		{
			"ties share rank",
			[]model.Result{res("d", 1), res("b", 5), res("a", 7), res("c", 5)},
			[]model.Standing{
				{SessionID: "a", Rank: 1, Percentile: 100},
				{SessionID: "b", Rank: 2, Percentile: 75},
				{SessionID: "c", Rank: 2, Percentile: 75},
				{SessionID: "d", Rank: 4, Percentile: 25},
			},
		},
		{
			"negative marks rank last",
			[]model.Result{res("x", -1.5), res("y", 0), res("z", 0.5)},
			[]model.Standing{
				{SessionID: "z", Rank: 1, Percentile: 100},
				{SessionID: "y", Rank: 2, Percentile: 66.67},
				{SessionID: "x", Rank: 3, Percentile: 33.33},
			},
		},
		{
			"all tied",
			[]model.Result{res("b", 2), res("a", 2)},
			[]model.Standing{
				{SessionID: "a", Rank: 1, Percentile: 100},
				{SessionID: "b", Rank: 1, Percentile: 100},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.results)
			if len(got) != len(tt.want) {
				t.Fatalf("Compute() returned %d standings, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("standing %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestComputeDoesNotReorderInput(t *testing.T) {
	in := []model.Result{res("b", 1), res("a", 2)}
	Compute(in)
	if in[0].SessionID != "b" {
		t.Error("Compute mutated its input")
	}
}
