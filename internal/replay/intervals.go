package replay

import (
	"math"

	"github.com/ryoh/typerank/internal/typing"
)

// IntervalStats describes the spacing of consecutive keystroke timestamps.
// Human typing shows substantial variance between keys; scripted input
// tends toward a suspiciously low coefficient of variation.
type IntervalStats struct {
	Mean  float64
	Stdev float64
	// CV is Stdev/Mean, +Inf when the mean is zero.
	CV    float64
	Count int
}

// Intervals computes population statistics over the non-negative deltas of
// consecutive event timestamps. Negative deltas clamp to zero. Fewer than
// two events yield all-zero statistics.
func Intervals(keylog []typing.KeyEvent) IntervalStats {
	stats := IntervalStats{Count: len(keylog) - 1}
	if stats.Count < 1 {
		stats.Count = 0
		return stats
	}

	deltas := make([]float64, 0, stats.Count)
	var sum float64
	for i := 1; i < len(keylog); i++ {
		d := keylog[i].T - keylog[i-1].T
		if d < 0 {
			d = 0
		}
		deltas = append(deltas, d)
		sum += d
	}

	mean := sum / float64(len(deltas))
	var sq float64
	for _, d := range deltas {
		diff := d - mean
		sq += diff * diff
	}

	stats.Mean = mean
	stats.Stdev = math.Sqrt(sq / float64(len(deltas)))
	if mean == 0 {
		stats.CV = math.Inf(1)
	} else {
		stats.CV = stats.Stdev / mean
	}
	return stats
}
