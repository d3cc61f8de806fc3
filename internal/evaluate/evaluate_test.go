package evaluate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryoh/typerank/internal/typing"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int64) *int64     { return &v }

func testContest() *typing.Contest {
	return &typing.Contest{
		ID:             "c1",
		TimeLimitSec:   60,
		AllowBackspace: true,
		StartsAt:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		EndsAt:         time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC),
	}
}

func testEntry() *typing.Entry {
	return &typing.Entry{UserID: "u1", ContestID: "c1", AttemptsUsed: 1}
}

func romajiPayload() *typing.FinishPayload {
	return &typing.FinishPayload{
		CPM:      fptr(167.44),
		WPM:      fptr(33.49),
		Accuracy: fptr(1),
		Score:    fptr(83),
		Errors:   iptr(0),
		Keylog: []typing.KeyEvent{
			{T: 0, K: "r"}, {T: 310, K: "o"}, {T: 660, K: "m"},
			{T: 1000, K: "a"}, {T: 1500, K: "j"}, {T: 2150, K: "i"},
		},
	}
}

func TestEvaluateCleanFinish(t *testing.T) {
	t.Parallel()

	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}
	v, err := Evaluate(testContest(), prompt, romajiPayload(), testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusFinished, v.Status)
	assert.Empty(t, v.Issues)
	assert.Equal(t, 6, v.Replay.Correct)
	assert.Equal(t, 0, v.Replay.Mistakes)
	assert.Equal(t, int64(2150), v.Replay.DurationMs)
	assert.InDelta(t, 167.44186, v.Stats.CPM, 0.001)
	assert.InDelta(t, 33.48837, v.Stats.WPM, 0.001)
	assert.Equal(t, 1.0, v.Stats.Accuracy)
	assert.Equal(t, int64(83), v.Stats.Score)
}

func TestEvaluateForbiddenBackspaceDisqualifies(t *testing.T) {
	t.Parallel()

	contest := testContest()
	contest.AllowBackspace = false
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "ab"}
	payload := &typing.FinishPayload{
		// Honest client numbers for this replay: 2 correct, 2 mistakes
		// over 900ms.
		CPM:      fptr(133.33),
		WPM:      fptr(26.67),
		Accuracy: fptr(0.5),
		Score:    fptr(16),
		Errors:   iptr(2),
		Keylog: []typing.KeyEvent{
			{T: 0, K: "a"}, {T: 300, K: "Backspace"}, {T: 600, K: "a"}, {T: 900, K: "b"},
		},
	}

	v, err := Evaluate(contest, prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusDQ, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueBackspaceForbidden))
	assert.False(t, typing.HasIssue(v.Issues, typing.IssueMetricMismatch))
	assert.Equal(t, 1, v.Replay.ForbiddenBackspaces)
	assert.Equal(t, 2, v.Replay.Correct)
}

func TestEvaluateMetricMismatchDisqualifiesDespiteCompletion(t *testing.T) {
	t.Parallel()

	prompt := &typing.Prompt{ID: "p1", TypingTarget: "abc"}
	payload := &typing.FinishPayload{
		CPM:      fptr(50),
		WPM:      fptr(10),
		Accuracy: fptr(0.5),
		Score:    fptr(10),
		Keylog: []typing.KeyEvent{
			{T: 0, K: "a"}, {T: 750, K: "b"}, {T: 1500, K: "c"},
		},
	}

	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusDQ, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueMetricMismatch))
	assert.True(t, v.Replay.Completed)
	assert.InDelta(t, 120.0, v.Stats.CPM, 1e-6)
	assert.InDelta(t, 70.0, v.Deltas.CPM, 1e-6)
}

func TestEvaluateOvertimeCompletedStaysFinished(t *testing.T) {
	t.Parallel()

	contest := testContest()
	contest.TimeLimitSec = 10
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "ab"}
	payload := &typing.FinishPayload{
		CPM:      fptr(10.43),
		WPM:      fptr(2.09),
		Accuracy: fptr(1),
		Score:    fptr(5),
		Keylog:   []typing.KeyEvent{{T: 0, K: "a"}, {T: 11500, K: "b"}},
	}

	v, err := Evaluate(contest, prompt, payload, testEntry())
	require.NoError(t, err)

	// Slow but honest and complete: the overtime is recorded, not fatal.
	assert.Equal(t, typing.StatusFinished, v.Status)
	assert.Equal(t, []typing.Issue{typing.IssueTimeLimitExceeded}, v.Issues)
}

func TestEvaluateOvertimeIncompleteExpires(t *testing.T) {
	t.Parallel()

	contest := testContest()
	contest.TimeLimitSec = 10
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "abc"}
	payload := &typing.FinishPayload{
		CPM:      fptr(10.43),
		WPM:      fptr(2.09),
		Accuracy: fptr(1),
		Score:    fptr(5),
		Keylog:   []typing.KeyEvent{{T: 0, K: "a"}, {T: 11500, K: "b"}},
	}

	v, err := Evaluate(contest, prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusExpired, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueTimeLimitExceeded))
	assert.True(t, typing.HasIssue(v.Issues, typing.IssuePromptNotCompleted))
}

func TestEvaluateTimeLimitSlack(t *testing.T) {
	t.Parallel()

	contest := testContest()
	contest.TimeLimitSec = 10
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "ab"}
	// 11000ms is exactly limit plus slack: not an overrun.
	payload := &typing.FinishPayload{
		CPM:      fptr(10.91),
		WPM:      fptr(2.18),
		Accuracy: fptr(1),
		Score:    fptr(5),
		Keylog:   []typing.KeyEvent{{T: 0, K: "a"}, {T: 11000, K: "b"}},
	}

	v, err := Evaluate(contest, prompt, payload, testEntry())
	require.NoError(t, err)
	assert.False(t, typing.HasIssue(v.Issues, typing.IssueTimeLimitExceeded))
}

func TestEvaluateEmptyPayloadExpires(t *testing.T) {
	t.Parallel()

	// A client that reconnects after abandoning an attempt reports the
	// stats its own kernel computes for zero keys: accuracy 1, all else
	// zero.
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}
	payload := &typing.FinishPayload{
		CPM:      fptr(0),
		WPM:      fptr(0),
		Accuracy: fptr(1),
		Score:    fptr(0),
	}

	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusExpired, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssuePromptNotCompleted))
	assert.False(t, typing.HasIssue(v.Issues, typing.IssueMetricMismatch))
	assert.Equal(t, 1.0, v.Stats.Accuracy)
	assert.Equal(t, int64(0), v.Stats.Score)
}

func TestEvaluateMissingMetricsDisqualify(t *testing.T) {
	t.Parallel()

	// A bare {} payload never matches the authoritative stats: absent
	// fields compare at infinite distance.
	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}
	v, err := Evaluate(testContest(), prompt, &typing.FinishPayload{}, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusDQ, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueMetricMismatch))
}

func TestEvaluateErrorCountDrift(t *testing.T) {
	t.Parallel()

	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}

	payload := romajiPayload()
	payload.Errors = iptr(1) // replay found 0; within tolerance
	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)
	assert.False(t, typing.HasIssue(v.Issues, typing.IssueErrorCountMismatch))
	assert.Equal(t, typing.StatusFinished, v.Status)

	payload = romajiPayload()
	payload.Errors = iptr(5)
	v, err = Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueErrorCountMismatch))
	assert.Equal(t, typing.StatusFinished, v.Status, "drift alone does not disqualify")

	payload = romajiPayload()
	payload.Errors = nil
	v, err = Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)
	assert.False(t, typing.HasIssue(v.Issues, typing.IssueErrorCountMismatch))
}

func TestEvaluateLowVarianceFlaggedNotFatal(t *testing.T) {
	t.Parallel()

	target := "aaaaaaaaaaaaa" // 13 keys, 12 intervals
	keylog := make([]typing.KeyEvent, 0, 13)
	tm := 0.0
	for i := 0; i < 13; i++ {
		keylog = append(keylog, typing.KeyEvent{T: tm, K: "a"})
		if i%2 == 0 {
			tm += 99
		} else {
			tm += 101
		}
	}

	prompt := &typing.Prompt{ID: "p1", TypingTarget: target}
	payload := &typing.FinishPayload{
		CPM:      fptr(650),
		WPM:      fptr(130),
		Accuracy: fptr(1),
		Score:    fptr(325),
		Keylog:   keylog,
	}

	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusFinished, v.Status)
	assert.Equal(t, []typing.Issue{typing.IssueLowVarianceTyping}, v.Issues)
	assert.Greater(t, v.Anomaly.CV, 0.0)
	assert.Less(t, v.Anomaly.CV, 0.1)
}

func TestEvaluateKeyLimitDisqualifies(t *testing.T) {
	t.Parallel()

	keylog := make([]typing.KeyEvent, typing.MaxKeylogEntries+1)
	for i := range keylog {
		keylog[i] = typing.KeyEvent{T: float64(i * 31), K: "a"}
	}
	prompt := &typing.Prompt{ID: "p1", TypingTarget: ""}
	payload := &typing.FinishPayload{
		CPM: fptr(0), WPM: fptr(0), Accuracy: fptr(0), Score: fptr(0),
		Keylog: keylog,
	}

	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)

	assert.Equal(t, typing.StatusDQ, v.Status)
	assert.True(t, typing.HasIssue(v.Issues, typing.IssueKeyLimitExceeded))
}

func TestEvaluateMissingEntryRecorded(t *testing.T) {
	t.Parallel()

	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}
	v, err := Evaluate(testContest(), prompt, romajiPayload(), nil)
	require.NoError(t, err)

	assert.True(t, typing.HasIssue(v.Issues, typing.IssueEntryNotFound))
	assert.Equal(t, typing.StatusFinished, v.Status, "bookkeeping gaps are not the player's fault")
}

func TestEvaluateCopiesClientFlags(t *testing.T) {
	t.Parallel()

	prompt := &typing.Prompt{ID: "p1", TypingTarget: "romaji"}
	payload := romajiPayload()
	payload.ClientFlags = typing.ClientFlags{Defocus: 3, PasteBlocked: true, AnomalyScore: fptr(0.42)}

	v, err := Evaluate(testContest(), prompt, payload, testEntry())
	require.NoError(t, err)
	assert.Equal(t, payload.ClientFlags, v.Flags)
}

func TestDisqualifies(t *testing.T) {
	t.Parallel()

	assert.True(t, Disqualifies(typing.IssueMetricMismatch))
	assert.True(t, Disqualifies(typing.IssueKeyLimitExceeded))
	assert.True(t, Disqualifies(typing.IssueBackspaceForbidden))
	assert.False(t, Disqualifies(typing.IssueTimeLimitExceeded))
	assert.False(t, Disqualifies(typing.IssueLowVarianceTyping))
	assert.False(t, Disqualifies(typing.IssuePromptNotCompleted))
	assert.False(t, Disqualifies(typing.IssueErrorCountMismatch))
}
