package scoring

import "math"

// Tolerance holds per-field absolute tolerances for the reported-versus-
// authoritative comparison.
type Tolerance struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    float64
}

// DefaultTolerance is the strict comparison profile.
func DefaultTolerance() Tolerance {
	return Tolerance{CPM: 1.0, WPM: 1.0, Accuracy: 0.02, Score: 1}
}

// RelaxedTolerance forgives network jitter; the session evaluator uses it.
func RelaxedTolerance() Tolerance {
	return Tolerance{CPM: 1.5, WPM: 1.5, Accuracy: 0.05, Score: 2}
}

// Reported are the client-supplied metrics. Nil means the field was absent.
type Reported struct {
	CPM      *float64
	WPM      *float64
	Accuracy *float64
	Score    *float64
}

// Deltas are per-field absolute differences. An absent or NaN reported
// field yields +Inf.
type Deltas struct {
	CPM      float64
	WPM      float64
	Accuracy float64
	Score    float64
}

// Comparison is the outcome of Compare. OK is true only when every field
// was present, finite, and within tolerance.
type Comparison struct {
	OK     bool
	Deltas Deltas
}

// Compare checks reported metrics against authoritative ones.
func Compare(reported Reported, authoritative Stats, tol Tolerance) Comparison {
	ok := true

	delta := func(rep *float64, auth, tolerance float64) float64 {
		if rep == nil || math.IsNaN(*rep) {
			ok = false
			return math.Inf(1)
		}
		d := math.Abs(*rep - auth)
		if d > tolerance {
			ok = false
		}
		return d
	}

	var deltas Deltas
	deltas.CPM = delta(reported.CPM, authoritative.CPM, tol.CPM)
	deltas.WPM = delta(reported.WPM, authoritative.WPM, tol.WPM)
	deltas.Accuracy = delta(reported.Accuracy, authoritative.Accuracy, tol.Accuracy)
	deltas.Score = delta(reported.Score, float64(authoritative.Score), tol.Score)

	return Comparison{OK: ok, Deltas: deltas}
}
