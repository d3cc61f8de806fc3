// Package policy holds the pure contest rules: where a contest sits on
// its schedule, whether its leaderboard may be shown, and whether a
// participant may join or start another attempt. Everything is a function
// of the contest record, the caller's entry, and a clock reading, so the
// store can apply it inside a transaction and tests can pin the clock.
package policy

import (
	"time"

	"github.com/ryoh/typerank/internal/typing"
)

// ContestStatus places a contest on its schedule.
type ContestStatus string

const (
	StatusScheduled ContestStatus = "scheduled"
	StatusRunning   ContestStatus = "running"
	StatusFinished  ContestStatus = "finished"
)

// Status reports the contest's state at now. The start boundary is
// inclusive and the end boundary exclusive: a contest runs on
// [StartsAt, EndsAt).
func Status(c *typing.Contest, now time.Time) ContestStatus {
	if now.Before(c.StartsAt) {
		return StatusScheduled
	}
	if !now.Before(c.EndsAt) {
		return StatusFinished
	}
	return StatusRunning
}

// LeaderboardVisible reports whether the ranking may be shown to
// participants at now.
func LeaderboardVisible(c *typing.Contest, now time.Time) bool {
	switch c.LeaderboardVisibility {
	case typing.LeaderboardDuring:
		return Status(c, now) == StatusRunning
	case typing.LeaderboardAfter:
		return Status(c, now) == StatusFinished
	default:
		return false
	}
}

// RequiresJoinCode reports whether joining the contest demands a code.
func RequiresJoinCode(c *typing.Contest) bool {
	return c.Visibility == typing.VisibilityPrivate
}

// ValidateJoin checks a supplied join code against the contest's. Public
// contests accept anyone; private contests require an exact match.
func ValidateJoin(c *typing.Contest, joinCode string) error {
	if !RequiresJoinCode(c) {
		return nil
	}
	if c.JoinCode == nil || joinCode != *c.JoinCode {
		return typing.ValidationError(typing.ReasonJoinCodeInvalid)
	}
	return nil
}

// ValidateSessionStart decides whether the holder of entry may start an
// attempt at now. A nil entry means the caller never joined the contest.
func ValidateSessionStart(c *typing.Contest, entry *typing.Entry, now time.Time) error {
	if Status(c, now) != StatusRunning {
		return typing.ValidationError(typing.ReasonContestNotRunning)
	}
	if entry == nil {
		return typing.ValidationError(typing.ReasonNotJoined)
	}
	if entry.AttemptsUsed >= c.MaxAttempts {
		return typing.ValidationError(typing.ReasonAttemptsExhausted)
	}
	return nil
}

// RemainingAttempts reports how many attempts the entry holder has left,
// never negative. A nil entry has the full allowance.
func RemainingAttempts(c *typing.Contest, entry *typing.Entry) int {
	if entry == nil {
		return c.MaxAttempts
	}
	if left := c.MaxAttempts - entry.AttemptsUsed; left > 0 {
		return left
	}
	return 0
}
