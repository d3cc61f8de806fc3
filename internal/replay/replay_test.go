package replay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryoh/typerank/internal/typing"
)

func ev(t float64, k string) typing.KeyEvent {
	return typing.KeyEvent{T: t, K: k}
}

func TestRunCleanAttempt(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{
		ev(0, "r"), ev(310, "o"), ev(660, "m"), ev(1000, "a"), ev(1500, "j"), ev(2150, "i"),
	}
	res := Run("romaji", keylog, true)

	assert.Equal(t, 6, res.Correct)
	assert.Equal(t, 0, res.Mistakes)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(2150), res.DurationMs)
	assert.Equal(t, 0, res.ForbiddenBackspaces)
	assert.Equal(t, 6, res.Processed)
	assert.Empty(t, res.Issues)
}

func TestRunForbiddenBackspace(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(0, "a"), ev(300, "Backspace"), ev(600, "a"), ev(900, "b")}
	res := Run("ab", keylog, false)

	// The backspace itself is a mistake, and the retyped "a" no longer
	// matches the cursor position.
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 2, res.Mistakes)
	assert.Equal(t, 1, res.ForbiddenBackspaces)
	assert.True(t, res.Completed)
	assert.Empty(t, res.Issues, "the backspace verdict is the evaluator's call, not replay's")
}

func TestRunBackspaceAllowedErasesProgress(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(0, "a"), ev(200, "Backspace"), ev(400, "a"), ev(600, "b")}
	res := Run("ab", keylog, true)

	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 0, res.Mistakes)
	assert.True(t, res.Completed)
}

func TestRunBackspaceAliases(t *testing.T) {
	t.Parallel()

	for _, alias := range []string{"Backspace", "BACKSPACE", "BackspaceKey", "KeyBackspace"} {
		res := Run("x", []typing.KeyEvent{ev(0, alias)}, false)
		assert.Equal(t, 1, res.ForbiddenBackspaces, "alias %q", alias)
	}
	res := Run("x", []typing.KeyEvent{ev(0, "Back")}, false)
	assert.Equal(t, 0, res.ForbiddenBackspaces)
}

func TestRunBackspaceAtStartStays(t *testing.T) {
	t.Parallel()

	res := Run("ab", []typing.KeyEvent{ev(0, "Backspace"), ev(100, "a")}, true)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 0, res.Mistakes)
}

func TestRunOverrun(t *testing.T) {
	t.Parallel()

	res := Run("a", []typing.KeyEvent{ev(0, "a"), ev(100, "b"), ev(200, "c")}, true)
	assert.Equal(t, 1, res.Correct)
	assert.Equal(t, 2, res.Mistakes)
	assert.True(t, res.Completed)
}

func TestRunWrongKeysDoNotAdvance(t *testing.T) {
	t.Parallel()

	res := Run("abc", []typing.KeyEvent{ev(0, "x"), ev(100, "y")}, true)
	assert.Equal(t, 0, res.Correct)
	assert.Equal(t, 2, res.Mistakes)
	assert.False(t, res.Completed)
}

func TestRunEmptyTarget(t *testing.T) {
	t.Parallel()

	res := Run("", nil, true)
	assert.True(t, res.Completed)
	assert.Equal(t, 0, res.Correct)
	assert.Equal(t, int64(0), res.DurationMs)

	res = Run("", []typing.KeyEvent{ev(0, "a")}, true)
	assert.True(t, res.Completed, "empty target stays trivially completed")
	assert.Equal(t, 1, res.Mistakes)
}

func TestRunEmptyKeylog(t *testing.T) {
	t.Parallel()

	res := Run("abc", nil, true)
	assert.Equal(t, 0, res.Correct)
	assert.Equal(t, 0, res.Mistakes)
	assert.False(t, res.Completed)
	assert.Equal(t, int64(0), res.DurationMs)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Issues)
}

func TestRunUnsortedTimestampsClampForward(t *testing.T) {
	t.Parallel()

	res := Run("ab", []typing.KeyEvent{ev(500, "a"), ev(100, "b")}, true)

	assert.Equal(t, 2, res.Correct, "out-of-order events are still replayed")
	assert.Equal(t, int64(0), res.DurationMs, "clamped timeline never runs backwards")
	assert.Equal(t, []typing.Issue{typing.IssueTimestampNotSorted}, res.Issues)
}

func TestRunInvalidTimestampsSkipped(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{
		ev(math.NaN(), "x"),
		ev(math.Inf(1), "x"),
		ev(-5, "x"),
		ev(1000, "a"),
		ev(3000, "b"),
	}
	res := Run("ab", keylog, true)

	assert.Equal(t, 2, res.Correct, "skipped events must not consume target positions")
	assert.Equal(t, 0, res.Mistakes)
	assert.Equal(t, int64(2000), res.DurationMs, "duration starts at the first valid timestamp")
	assert.Equal(t, 5, res.Processed)
	assert.ElementsMatch(t, []typing.Issue{
		typing.IssueInvalidTimestamp,
		typing.IssueNegativeTimestamp,
	}, res.Issues)
}

func TestRunIssuesDeduplicated(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(-1, "a"), ev(-2, "b"), ev(-3, "c")}
	res := Run("abc", keylog, true)
	assert.Equal(t, []typing.Issue{typing.IssueNegativeTimestamp}, res.Issues)
}

func TestRunKeyLimitExceededStillReplays(t *testing.T) {
	t.Parallel()

	keylog := make([]typing.KeyEvent, typing.MaxKeylogEntries+1)
	for i := range keylog {
		keylog[i] = ev(float64(i*10), "a")
	}
	res := Run("", keylog, true)

	assert.True(t, typing.HasIssue(res.Issues, typing.IssueKeyLimitExceeded))
	assert.Equal(t, typing.MaxKeylogEntries+1, res.Processed)
	assert.Equal(t, typing.MaxKeylogEntries+1, res.Mistakes, "events past the limit are still replayed")
}

func TestRunNormalizesCombiningSequences(t *testing.T) {
	t.Parallel()

	// Decomposed input (base + combining voicing mark) against a
	// precomposed target.
	keylog := []typing.KeyEvent{ev(0, "が"), ev(400, "ぎ")}
	res := Run("がぎ", keylog, true)
	assert.Equal(t, 2, res.Correct)
	assert.True(t, res.Completed)

	// And the reverse: precomposed input against a decomposed target.
	res = Run("が", []typing.KeyEvent{ev(0, "が")}, true)
	assert.Equal(t, 1, res.Correct)
	assert.True(t, res.Completed)
}

func TestRunMultiByteCursorIsPerCodePoint(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(0, "ね"), ev(300, "こ")}
	res := Run("ねこ", keylog, true)
	assert.Equal(t, 2, res.Correct)
	assert.True(t, res.Completed)
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(0, "a"), ev(-1, "b"), ev(100, "Backspace"), ev(90, "c")}
	a := Run("abc", keylog, false)
	b := Run("abc", keylog, false)
	assert.Equal(t, a, b)
}

func TestRunConservation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		target string
		keylog []typing.KeyEvent
		allow  bool
	}{
		{"romaji", []typing.KeyEvent{ev(0, "r"), ev(1, "x"), ev(2, "o"), ev(3, "Backspace")}, true},
		{"ab", []typing.KeyEvent{ev(0, "a"), ev(1, "Backspace"), ev(2, "a"), ev(3, "b")}, false},
		{"", []typing.KeyEvent{ev(0, "q"), ev(1, "w")}, true},
		{"xyz", nil, true},
	}
	for _, tc := range cases {
		res := Run(tc.target, tc.keylog, tc.allow)
		require.LessOrEqual(t, res.Correct+res.Mistakes, res.Processed+res.ForbiddenBackspaces)
		if res.Completed {
			require.Equal(t, len([]rune(tc.target)), res.Correct)
		}
	}
}

func TestIntervalsTypicalSpread(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{
		ev(0, "r"), ev(310, "o"), ev(660, "m"), ev(1000, "a"), ev(1500, "j"), ev(2150, "i"),
	}
	stats := Intervals(keylog)

	assert.Equal(t, 5, stats.Count)
	assert.InDelta(t, 430.0, stats.Mean, 1e-9)
	assert.InDelta(t, 128.218, stats.Stdev, 0.001)
	assert.InDelta(t, 0.2982, stats.CV, 0.0001)
}

func TestIntervalsUniformSpacing(t *testing.T) {
	t.Parallel()

	keylog := []typing.KeyEvent{ev(0, "a"), ev(100, "b"), ev(200, "c"), ev(300, "d")}
	stats := Intervals(keylog)

	assert.Equal(t, 100.0, stats.Mean)
	assert.Equal(t, 0.0, stats.Stdev)
	assert.Equal(t, 0.0, stats.CV)
	assert.Equal(t, 3, stats.Count)
}

func TestIntervalsFewerThanTwoEvents(t *testing.T) {
	t.Parallel()

	stats := Intervals(nil)
	assert.Equal(t, IntervalStats{}, stats)

	stats = Intervals([]typing.KeyEvent{ev(42, "a")})
	assert.Equal(t, IntervalStats{}, stats)
}

func TestIntervalsZeroMeanHasInfiniteCV(t *testing.T) {
	t.Parallel()

	// Deltas clamp at zero, so a backwards timeline degenerates to a zero
	// mean.
	stats := Intervals([]typing.KeyEvent{ev(100, "a"), ev(50, "b")})
	assert.Equal(t, 0.0, stats.Mean)
	assert.True(t, math.IsInf(stats.CV, 1))
	assert.Equal(t, 1, stats.Count)
}

func TestIntervalsNearUniformLowCV(t *testing.T) {
	t.Parallel()

	keylog := make([]typing.KeyEvent, 0, 13)
	tm := 0.0
	for i := 0; i < 13; i++ {
		keylog = append(keylog, ev(tm, "a"))
		if i%2 == 0 {
			tm += 99
		} else {
			tm += 101
		}
	}
	stats := Intervals(keylog)

	assert.Equal(t, 12, stats.Count)
	assert.Greater(t, stats.CV, 0.0)
	assert.Less(t, stats.CV, 0.1)
}
