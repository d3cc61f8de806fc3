package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ryoh/typerank/internal/policy"
	"github.com/ryoh/typerank/internal/typing"
)

// ErrEntryNotFound is returned when a user has no entry for a contest.
var ErrEntryNotFound = typing.NotFoundError(typing.ReasonEntryNotFound)

const entryColumns = `user_id, contest_id, attempts_used, best_score, best_cpm,
	best_accuracy, last_attempt_at_unix_ms, joined_at_unix_ms`

// JoinContest creates the caller's entry for a contest, checking the join
// code on private contests. Joining twice is a no-op that returns the
// existing entry unchanged.
func (s *SQLiteStore) JoinContest(ctx context.Context, contestID, userID, joinCode string, now time.Time) (*typing.Entry, error) {
	if contestID == "" || userID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}

	var entry *typing.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		contest, err := getContest(ctx, tx, contestID)
		if err != nil {
			return err
		}
		if err := policy.ValidateJoin(contest, joinCode); err != nil {
			return err
		}

		entry, err = getEntry(ctx, tx, contestID, userID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		entry, err = createEntry(ctx, tx, contestID, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetEntry retrieves a user's entry for a contest.
func (s *SQLiteStore) GetEntry(ctx context.Context, contestID, userID string) (*typing.Entry, error) {
	if contestID == "" || userID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	return getEntry(ctx, s.db, contestID, userID)
}

func getEntry(ctx context.Context, q dbtx, contestID, userID string) (*typing.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries WHERE contest_id = ? AND user_id = ?
	`, contestID, userID)

	var e typing.Entry
	var bestScore, lastAttempt sql.NullInt64
	var bestCPM, bestAccuracy sql.NullFloat64
	var joinedAt int64
	err := row.Scan(&e.UserID, &e.ContestID, &e.AttemptsUsed,
		&bestScore, &bestCPM, &bestAccuracy, &lastAttempt, &joinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	e.BestScore = intPtr(bestScore)
	e.BestCPM = floatPtr(bestCPM)
	e.BestAccuracy = floatPtr(bestAccuracy)
	e.LastAttemptAt = timePtr(lastAttempt)
	e.JoinedAt = msTime(joinedAt)
	return &e, nil
}

func createEntry(ctx context.Context, q dbtx, contestID, userID string, now time.Time) (*typing.Entry, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entries (user_id, contest_id, attempts_used, joined_at_unix_ms)
		VALUES (?, ?, 0, ?)
	`, userID, contestID, unixMs(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}
	return &typing.Entry{
		UserID:    userID,
		ContestID: contestID,
		JoinedAt:  now,
	}, nil
}
