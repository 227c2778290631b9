// Package ranking computes rank and percentile across the results of one exam.
package ranking

import (
	"cmp"
	"slices"

	"github.com/examhall/examhall/internal/grading"
	"github.com/examhall/examhall/internal/model"
)

// Compute ranks results by marks obtained. Equal marks share a rank and the
// next distinct score skips ahead (1, 2, 2, 4). Percentile is the share of
// results scoring at or below the session's marks, rounded to two decimals.
// The output is ordered by rank, then session ID.
func Compute(results []model.Result) []model.Standing {
	n := len(results)
	if n == 0 {
		return nil
	}
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b model.Result) int {
		if c := cmp.Compare(b.MarksObtained, a.MarksObtained); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})

	out := make([]model.Standing, n)
	rank := 1
	for i, r := range sorted {
		if i > 0 && r.MarksObtained != sorted[i-1].MarksObtained {
			rank = i + 1
		}
		// Everyone from this rank's first position to the end scores <= r.
		atOrBelow := n - (rank - 1)
		out[i] = model.Standing{
			SessionID:  r.SessionID,
			Rank:       rank,
			Percentile: grading.Round2(float64(atOrBelow) / float64(n) * 100),
		}
	}
	return out
}
