// Package evaluate turns a finish submission into a verdict. It replays
// the keylog, recomputes the metrics the client should have reported,
// compares the two within jitter tolerances, applies the anti-cheat
// heuristics, and classifies the attempt as finished, expired, or
// disqualified.
package evaluate

import (
	"github.com/ryoh/typerank/internal/replay"
	"github.com/ryoh/typerank/internal/scoring"
	"github.com/ryoh/typerank/internal/typing"
)

const (
	// networkSlackMs forgives transport delay when holding an attempt
	// against the contest time limit.
	networkSlackMs = 1000

	// errorCountTolerance allows the client's error count to drift from
	// the replayed one by a single key before it is flagged.
	errorCountTolerance = 1

	// Keystroke spacing with a coefficient of variation this low over
	// more than lowVarianceSamples intervals is flagged as scripted.
	lowVarianceCV      = 0.1
	lowVarianceSamples = 10
)

var disqualifying = map[typing.Issue]struct{}{
	typing.IssueMetricMismatch:     {},
	typing.IssueKeyLimitExceeded:   {},
	typing.IssueBackspaceForbidden: {},
}

// Disqualifies reports whether issue alone forces a dq verdict. Every
// other issue is recorded for review but leaves the verdict to the
// completion state.
func Disqualifies(issue typing.Issue) bool {
	_, ok := disqualifying[issue]
	return ok
}

// Verdict is the ruling on one finish submission.
type Verdict struct {
	// Status is finished, expired, or dq. Never running.
	Status typing.SessionStatus

	// Stats are the authoritative metrics recomputed from the replay.
	Stats scoring.Stats

	// Replay is the reconstruction the stats were derived from.
	Replay replay.Result

	// Issues is everything flagged along the way, disqualifying or not,
	// in detection order.
	Issues []typing.Issue

	// Deltas are the reported-vs-authoritative gaps, for logs.
	Deltas scoring.Deltas

	// Anomaly summarizes keystroke interval spacing.
	Anomaly replay.IntervalStats

	// Flags are the client's own telemetry, copied through untrusted.
	Flags typing.ClientFlags
}

// Evaluate rules on payload as a finish of an attempt at prompt under
// contest's rules. A nil entry records ENTRY_NOT_FOUND: the submission is
// still evaluated so operators see what was attempted.
//
// The verdict is dq when any disqualifying issue is present, expired when
// the prompt was not completed, and finished otherwise.
func Evaluate(contest *typing.Contest, prompt *typing.Prompt, payload *typing.FinishPayload, entry *typing.Entry) (Verdict, error) {
	v := Verdict{Flags: payload.ClientFlags}

	if entry == nil {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssueEntryNotFound)
	}

	v.Replay = replay.Run(prompt.TypingTarget, payload.Keylog, contest.AllowBackspace)
	for _, issue := range v.Replay.Issues {
		v.Issues = typing.AppendIssue(v.Issues, issue)
	}

	elapsedMs := v.Replay.DurationMs
	if elapsedMs < 1 {
		elapsedMs = 1
	}
	stats, err := scoring.Calculate(v.Replay.Correct, v.Replay.Mistakes, elapsedMs)
	if err != nil {
		return Verdict{}, err
	}
	v.Stats = stats

	reported := scoring.Reported{
		CPM:      payload.CPM,
		WPM:      payload.WPM,
		Accuracy: payload.Accuracy,
		Score:    payload.Score,
	}
	comparison := scoring.Compare(reported, stats, scoring.RelaxedTolerance())
	v.Deltas = comparison.Deltas
	if !comparison.OK {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssueMetricMismatch)
	}

	if payload.Errors != nil {
		drift := *payload.Errors - int64(v.Replay.Mistakes)
		if drift < 0 {
			drift = -drift
		}
		if drift > errorCountTolerance {
			v.Issues = typing.AppendIssue(v.Issues, typing.IssueErrorCountMismatch)
		}
	}

	if !v.Replay.Completed && len(prompt.TypingTarget) > 0 {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssuePromptNotCompleted)
	}
	if v.Replay.ForbiddenBackspaces > 0 {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssueBackspaceForbidden)
	}
	if v.Replay.DurationMs > int64(contest.TimeLimitSec)*1000+networkSlackMs {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssueTimeLimitExceeded)
	}

	v.Anomaly = replay.Intervals(payload.Keylog)
	if v.Anomaly.CV != 0 && v.Anomaly.CV < lowVarianceCV && v.Anomaly.Count > lowVarianceSamples {
		v.Issues = typing.AppendIssue(v.Issues, typing.IssueLowVarianceTyping)
	}

	v.Status = verdictStatus(v.Issues, v.Replay.Completed)
	return v, nil
}

func verdictStatus(issues []typing.Issue, completed bool) typing.SessionStatus {
	for _, issue := range issues {
		if Disqualifies(issue) {
			return typing.StatusDQ
		}
	}
	if !completed {
		return typing.StatusExpired
	}
	return typing.StatusFinished
}
