package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ryoh/typerank/internal/evaluate"
	"github.com/ryoh/typerank/internal/leaderboard"
	"github.com/ryoh/typerank/internal/policy"
	"github.com/ryoh/typerank/internal/scoring"
	"github.com/ryoh/typerank/internal/typing"
)

// Session sentinels.
var (
	ErrSessionNotFound = typing.NotFoundError(typing.ReasonSessionNotFound)
	ErrSessionTerminal = typing.ConflictError(typing.ReasonSessionTerminal)
	ErrNoPrompts       = typing.NotFoundError(typing.ReasonNoPrompts)
)

// staleSessionGraceMs pads the contest time limit before the janitor
// expires an abandoned running session, leaving a slow client room to
// file its own finish first.
const staleSessionGraceMs = 60_000

const sessionColumns = `session_id, user_id, contest_id, prompt_id,
	started_at_unix_ms, ended_at_unix_ms, status, cpm, wpm, accuracy, errors,
	score, defocus_count, paste_blocked, anomaly_score, dq_reason`

// StartSession admits a new attempt. Inside one write transaction it
// loads the contest, creates the caller's entry if this is their first
// contact, applies the start policy, picks the next prompt by rotating
// through the pool, creates the running session, and counts the attempt.
//
// Because every call runs its own serialized write transaction,
// concurrent starts by the same user observe strictly increasing
// attempts_used values with no gaps or repeats.
func (s *SQLiteStore) StartSession(ctx context.Context, contestID, userID string, now time.Time) (*StartResult, error) {
	if contestID == "" || userID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}

	var res *StartResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		contest, err := getContest(ctx, tx, contestID)
		if err != nil {
			return err
		}

		entry, err := getEntry(ctx, tx, contestID, userID)
		if errors.Is(err, ErrEntryNotFound) {
			entry, err = createEntry(ctx, tx, contestID, userID, now)
		}
		if err != nil {
			return err
		}

		if err := policy.ValidateSessionStart(contest, entry, now); err != nil {
			return err
		}

		prompts, err := listContestPrompts(ctx, tx, contestID)
		if err != nil {
			return err
		}
		if len(prompts) == 0 {
			return ErrNoPrompts
		}
		prompt := prompts[entry.AttemptsUsed%len(prompts)]

		sessionID := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, user_id, contest_id, prompt_id, started_at_unix_ms, status)
			VALUES (?, ?, ?, ?, ?, 'running')
		`, sessionID, userID, contestID, prompt.ID, unixMs(now))
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE entries
			SET attempts_used = attempts_used + 1, last_attempt_at_unix_ms = ?
			WHERE user_id = ? AND contest_id = ?
		`, unixMs(now), userID, contestID)
		if err != nil {
			return fmt.Errorf("failed to count attempt: %w", err)
		}

		used := entry.AttemptsUsed + 1
		remaining := contest.MaxAttempts - used
		if remaining < 0 {
			remaining = 0
		}
		res = &StartResult{
			SessionID:         sessionID,
			Prompt:            prompt,
			StartedAt:         now,
			AttemptsUsed:      used,
			AttemptsRemaining: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FinishSession terminalizes a running attempt with the evaluator's
// verdict. The session row, its keylog, and the entry's best metrics all
// change in one transaction; a second finish for the same session finds
// it terminal and fails with a conflict.
func (s *SQLiteStore) FinishSession(ctx context.Context, sessionID, userID string, payload *typing.FinishPayload, now time.Time) (*FinishResult, error) {
	if sessionID == "" || userID == "" || payload == nil {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}

	var res *FinishResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		// Principal mismatch reads as absence so session ids cannot be
		// probed.
		if session.UserID != userID {
			return ErrSessionNotFound
		}
		if session.Status != typing.StatusRunning {
			return ErrSessionTerminal
		}

		contest, err := getContest(ctx, tx, session.ContestID)
		if err != nil {
			return err
		}
		prompt, err := getPrompt(ctx, tx, session.PromptID)
		if err != nil {
			return err
		}
		entry, err := getEntry(ctx, tx, session.ContestID, userID)
		if errors.Is(err, ErrEntryNotFound) {
			entry = nil
		} else if err != nil {
			return err
		}

		verdict, err := evaluate.Evaluate(contest, prompt, payload, entry)
		if err != nil {
			return fmt.Errorf("failed to evaluate session: %w", err)
		}

		var dqReason sql.NullString
		if verdict.Status == typing.StatusDQ {
			dqReason = sql.NullString{String: typing.JoinIssues(verdict.Issues), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, ended_at_unix_ms = ?, cpm = ?, wpm = ?, accuracy = ?,
			    errors = ?, score = ?, defocus_count = ?, paste_blocked = ?,
			    anomaly_score = ?, dq_reason = ?
			WHERE session_id = ?
		`, string(verdict.Status), unixMs(now), verdict.Stats.CPM, verdict.Stats.WPM,
			verdict.Stats.Accuracy, verdict.Replay.Mistakes, verdict.Stats.Score,
			verdict.Flags.Defocus, verdict.Flags.PasteBlocked,
			nullableFloat(verdict.Flags.AnomalyScore), dqReason, sessionID)
		if err != nil {
			return fmt.Errorf("failed to terminalize session: %w", err)
		}

		if err := replaceKeystrokes(ctx, tx, sessionID, payload.Keylog); err != nil {
			return err
		}

		bestUpdated := false
		attemptsUsed := 0
		if entry != nil {
			attemptsUsed = entry.AttemptsUsed
			if verdict.Status == typing.StatusFinished && isBetter(entry, verdict.Stats) {
				bestUpdated = true
				_, err = tx.ExecContext(ctx, `
					UPDATE entries
					SET best_score = ?, best_cpm = ?, best_accuracy = ?, last_attempt_at_unix_ms = ?
					WHERE user_id = ? AND contest_id = ?
				`, verdict.Stats.Score, verdict.Stats.CPM, verdict.Stats.Accuracy,
					unixMs(now), userID, session.ContestID)
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE entries SET last_attempt_at_unix_ms = ?
					WHERE user_id = ? AND contest_id = ?
				`, unixMs(now), userID, session.ContestID)
			}
			if err != nil {
				return fmt.Errorf("failed to update entry: %w", err)
			}
		}

		res = &FinishResult{
			SessionID:    sessionID,
			ContestID:    session.ContestID,
			Status:       verdict.Status,
			Stats:        verdict.Stats,
			Issues:       verdict.Issues,
			Anomaly:      verdict.Anomaly,
			Flags:        verdict.Flags,
			BestUpdated:  bestUpdated,
			AttemptsUsed: attemptsUsed,
			EndedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*typing.Session, error) {
	if sessionID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	return getSession(ctx, s.db, sessionID)
}

// GetKeystrokes returns a session's persisted keylog in replay order.
func (s *SQLiteStore) GetKeystrokes(ctx context.Context, sessionID string) ([]typing.Keystroke, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, idx, t_ms, key, ok
		FROM keystrokes WHERE session_id = ? ORDER BY idx ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keystrokes: %w", err)
	}
	defer rows.Close()

	var keys []typing.Keystroke
	for rows.Next() {
		var k typing.Keystroke
		if err := rows.Scan(&k.SessionID, &k.Idx, &k.TMs, &k.Key, &k.OK); err != nil {
			return nil, fmt.Errorf("failed to scan keystroke: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keystrokes: %w", err)
	}
	return keys, nil
}

// ExpireStaleSessions terminalizes running sessions whose contest time
// limit (plus grace) has long passed: abandoned tabs, crashed clients.
// Returns how many sessions were expired.
func (s *SQLiteStore) ExpireStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'expired', ended_at_unix_ms = ?
		WHERE status = 'running' AND session_id IN (
			SELECT s.session_id
			FROM sessions s
			JOIN contests c ON c.contest_id = s.contest_id
			WHERE s.status = 'running'
			  AND s.started_at_unix_ms + (c.time_limit_sec * 1000) + ? < ?
		)
	`, unixMs(now), staleSessionGraceMs, unixMs(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// LeaderboardRows reads the contest's finished sessions in standing
// order, joined with usernames, ready for the projector. The limit
// defaults to DefaultLeaderboardLimit and is clamped to
// MaxLeaderboardLimit.
func (s *SQLiteStore) LeaderboardRows(ctx context.Context, contestID string, limit int) ([]leaderboard.Row, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	if _, err := getContest(ctx, s.db, contestID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.user_id, u.username, s.score, s.accuracy, s.cpm, s.wpm, s.ended_at_unix_ms
		FROM sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.contest_id = ? AND s.status = 'finished'
		ORDER BY s.score DESC, s.accuracy DESC, s.cpm DESC, s.ended_at_unix_ms ASC
		LIMIT ?
	`, contestID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []leaderboard.Row
	for rows.Next() {
		var r leaderboard.Row
		var endedAt int64
		err := rows.Scan(&r.SessionID, &r.UserID, &r.Username,
			&r.Score, &r.Accuracy, &r.CPM, &r.WPM, &endedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		r.EndedAt = msTime(endedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return out, nil
}

func getSession(ctx context.Context, q dbtx, sessionID string) (*typing.Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?
	`, sessionID)

	var sess typing.Session
	var endedAt, errCount, score sql.NullInt64
	var cpm, wpm, accuracy, anomaly sql.NullFloat64
	var dqReason sql.NullString
	var startedAt int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ContestID, &sess.PromptID,
		&startedAt, &endedAt, &sess.Status, &cpm, &wpm, &accuracy, &errCount,
		&score, &sess.DefocusCount, &sess.PasteBlocked, &anomaly, &dqReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.StartedAt = msTime(startedAt)
	sess.EndedAt = timePtr(endedAt)
	sess.CPM = floatPtr(cpm)
	sess.WPM = floatPtr(wpm)
	sess.Accuracy = floatPtr(accuracy)
	sess.Errors = intPtr(errCount)
	sess.Score = intPtr(score)
	sess.AnomalyScore = floatPtr(anomaly)
	sess.DQReason = stringPtr(dqReason)
	return &sess, nil
}

// replaceKeystrokes swaps the persisted keylog for sessionID as a unit.
// Rows keep a dense idx and a non-negative, non-decreasing integer
// timeline even when the submitted events carry garbage timestamps, and
// the stored log never exceeds the per-session cap.
func replaceKeystrokes(ctx context.Context, tx *sql.Tx, sessionID string, keylog []typing.KeyEvent) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM keystrokes WHERE session_id = ?
	`, sessionID); err != nil {
		return fmt.Errorf("failed to clear keystrokes: %w", err)
	}
	if len(keylog) == 0 {
		return nil
	}
	if len(keylog) > typing.MaxKeylogEntries {
		keylog = keylog[:typing.MaxKeylogEntries]
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO keystrokes (session_id, idx, t_ms, key, ok)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare keystroke insert: %w", err)
	}
	defer stmt.Close()

	var lastMs int64
	for i, ev := range keylog {
		tMs := lastMs
		if !math.IsNaN(ev.T) && !math.IsInf(ev.T, 0) {
			if ms := int64(ev.T); ms > lastMs {
				tMs = ms
			}
		}
		lastMs = tMs

		ok := utf8.RuneCountInString(ev.K) == 1
		if ev.OK != nil {
			ok = *ev.OK
		}
		if _, err := stmt.ExecContext(ctx, sessionID, i, tMs, ev.K, ok); err != nil {
			return fmt.Errorf("failed to insert keystroke %d: %w", i, err)
		}
	}
	return nil
}

// isBetter reports whether stats beat the entry's recorded best on the
// (score, accuracy, cpm) lexicographic order. A missing best field loses
// to anything; a full tie is not an improvement.
func isBetter(entry *typing.Entry, stats scoring.Stats) bool {
	best := func(p *float64) float64 {
		if p == nil {
			return math.Inf(-1)
		}
		return *p
	}

	bestScore := math.Inf(-1)
	if entry.BestScore != nil {
		bestScore = float64(*entry.BestScore)
	}
	if float64(stats.Score) != bestScore {
		return float64(stats.Score) > bestScore
	}
	if stats.Accuracy != best(entry.BestAccuracy) {
		return stats.Accuracy > best(entry.BestAccuracy)
	}
	if stats.CPM != best(entry.BestCPM) {
		return stats.CPM > best(entry.BestCPM)
	}
	return false
}
