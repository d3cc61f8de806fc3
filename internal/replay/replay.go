// Package replay reconstructs a typing attempt from its submitted
// keystroke log. The server never trusts client-reported metrics: the log
// is replayed against the prompt's typing target to recover the
// authoritative correct/mistake counts, completion state, and elapsed
// time, plus any timeline irregularities found along the way.
package replay

import (
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/ryoh/typerank/internal/typing"
)

// backspaceKeys holds every key name observed in the wild for the
// backspace key across browsers and client versions.
var backspaceKeys = map[string]struct{}{
	"Backspace":    {},
	"BACKSPACE":    {},
	"BackspaceKey": {},
	"KeyBackspace": {},
}

// IsBackspace reports whether key names the backspace key under any of its
// client aliases.
func IsBackspace(key string) bool {
	_, ok := backspaceKeys[key]
	return ok
}

// Result is the authoritative reconstruction of one attempt.
type Result struct {
	// Correct is the final cursor position: the number of target code
	// points reproduced and not subsequently erased.
	Correct int

	// Mistakes counts wrong keys, keys typed past the end of the target,
	// and forbidden backspaces.
	Mistakes int

	// Completed is true when the cursor reached the end of the target.
	// An empty target is trivially completed.
	Completed bool

	// DurationMs spans the first to the last valid timestamp on the
	// clamped timeline, zero when no event carried a usable timestamp.
	DurationMs int64

	// ForbiddenBackspaces counts backspace presses while the contest
	// disallowed them.
	ForbiddenBackspaces int

	// Processed is the submitted keylog length, including skipped events.
	Processed int

	Issues []typing.Issue
}

// Run replays keylog against target under the contest's backspace policy.
//
// The target is indexed by NFC-normalized code points so that decomposed
// input (base plus combining mark) matches its precomposed form and
// combining sequences are never split. Events with unusable timestamps
// are skipped; out-of-order timestamps are clamped forward to keep the
// timeline monotone. Every irregularity is recorded, but replay always
// runs to the end of the log, even past the per-session key limit.
func Run(target string, keylog []typing.KeyEvent, allowBackspace bool) Result {
	res := Result{Processed: len(keylog)}
	if len(keylog) > typing.MaxKeylogEntries {
		res.Issues = typing.AppendIssue(res.Issues, typing.IssueKeyLimitExceeded)
	}

	targetRunes := []rune(norm.NFC.String(target))

	var (
		cursor    int
		firstTime float64
		lastTime  float64
		haveTime  bool
	)

	for _, ev := range keylog {
		t := ev.T
		if math.IsNaN(t) || math.IsInf(t, 0) {
			res.Issues = typing.AppendIssue(res.Issues, typing.IssueInvalidTimestamp)
			continue
		}
		if t < 0 {
			res.Issues = typing.AppendIssue(res.Issues, typing.IssueNegativeTimestamp)
			continue
		}
		if haveTime && t < lastTime {
			res.Issues = typing.AppendIssue(res.Issues, typing.IssueTimestampNotSorted)
			t = lastTime
		}
		if !haveTime {
			firstTime = t
			haveTime = true
		}
		lastTime = t

		if IsBackspace(ev.K) {
			if allowBackspace {
				if cursor > 0 {
					cursor--
				}
			} else {
				res.Mistakes++
				res.ForbiddenBackspaces++
			}
			continue
		}

		switch {
		case cursor >= len(targetRunes):
			res.Mistakes++
		case norm.NFC.String(ev.K) == string(targetRunes[cursor]):
			cursor++
		default:
			res.Mistakes++
		}
	}

	res.Correct = cursor
	res.Completed = cursor >= len(targetRunes)
	if haveTime {
		res.DurationMs = int64(lastTime - firstTime)
	}
	return res
}
