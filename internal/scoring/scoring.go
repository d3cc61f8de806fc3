// Package scoring implements the pure typing-metrics kernel: authoritative
// stats from replayed counts, and the tolerance comparison between what a
// client reported and what the server recomputed.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned for negative counts. It signals a
// programmer error, not a domain condition.
var ErrInvalidArgument = errors.New("invalid argument")

// Stats are the authoritative metrics for one attempt.
type Stats struct {
	CPM      float64
	WPM      float64
	Accuracy float64 // in [0, 1]
	Score    int64
}

// Calculate derives typing metrics from replayed counts.
//
//	accuracy = correct / (correct + mistakes)  (1 when no keys at all)
//	cpm      = correct / elapsed minutes
//	wpm      = cpm / 5
//	score    = floor(cpm * accuracy^2 / 2)
//
// A non-positive elapsedMs collapses the rate metrics to zero; accuracy is
// then 1 exactly when there were no mistakes.
func Calculate(correct, mistakes int, elapsedMs int64) (Stats, error) {
	if correct < 0 || mistakes < 0 {
		return Stats{}, fmt.Errorf("%w: correct=%d mistakes=%d", ErrInvalidArgument, correct, mistakes)
	}

	if elapsedMs <= 0 {
		acc := 0.0
		if mistakes == 0 {
			acc = 1.0
		}
		return Stats{Accuracy: acc}, nil
	}

	total := correct + mistakes
	accuracy := 1.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	minutes := float64(elapsedMs) / 60000.0
	cpm := float64(correct) / minutes

	return Stats{
		CPM:      cpm,
		WPM:      cpm / 5,
		Accuracy: accuracy,
		Score:    int64(math.Floor(cpm * accuracy * accuracy / 2)),
	}, nil
}
