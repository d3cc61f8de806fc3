package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryoh/typerank/internal/typing"
)

// ErrContestNotFound is returned when a contest does not exist.
var ErrContestNotFound = typing.NotFoundError(typing.ReasonContestNotFound)

// Defaults applied when a contest is created with zero values.
const (
	defaultTimeLimitSec = 60
	defaultMaxAttempts  = 3
	defaultListLimit    = 50
	maxListLimit        = 200
)

const contestColumns = `contest_id, title, description, visibility, join_code,
	starts_at_unix_ms, ends_at_unix_ms, timezone, time_limit_sec, max_attempts,
	allow_backspace, leaderboard_visibility, language, created_by, created_at_unix_ms`

// CreateContest inserts a contest after filling defaults and validating
// the participation rules: the window must be ordered, the time limit in
// range, and private contests must carry a join code.
func (s *SQLiteStore) CreateContest(ctx context.Context, c *typing.Contest) error {
	if c == nil {
		return errors.New("contest cannot be nil")
	}
	if c.Title == "" || c.CreatedBy == "" {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Visibility == "" {
		c.Visibility = typing.VisibilityPublic
	}
	if c.LeaderboardVisibility == "" {
		c.LeaderboardVisibility = typing.LeaderboardDuring
	}
	if c.Language == "" {
		c.Language = typing.LanguageRomaji
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.TimeLimitSec == 0 {
		c.TimeLimitSec = defaultTimeLimitSec
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	if !c.StartsAt.Before(c.EndsAt) {
		return typing.ValidationError(typing.ReasonInvalidSchedule)
	}
	if c.TimeLimitSec < typing.MinTimeLimitSec || c.TimeLimitSec > typing.MaxTimeLimitSec {
		return typing.ValidationError(typing.ReasonInvalidTimeLimit)
	}
	if c.MaxAttempts < 1 || !validLanguage(c.Language) {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	if c.Visibility == typing.VisibilityPrivate && (c.JoinCode == nil || *c.JoinCode == "") {
		return typing.ValidationError(typing.ReasonJoinCodeRequired)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contests (`+contestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Title, c.Description, string(c.Visibility), nullableString(c.JoinCode),
		unixMs(c.StartsAt), unixMs(c.EndsAt), c.Timezone, c.TimeLimitSec, c.MaxAttempts,
		c.AllowBackspace, string(c.LeaderboardVisibility), string(c.Language),
		c.CreatedBy, unixMs(c.CreatedAt),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return typing.ConflictError(typing.ReasonBadPayload)
		}
		return fmt.Errorf("failed to create contest: %w", err)
	}
	return nil
}

// GetContest retrieves a contest by ID.
func (s *SQLiteStore) GetContest(ctx context.Context, contestID string) (*typing.Contest, error) {
	if contestID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	return getContest(ctx, s.db, contestID)
}

// ListContests returns contests ordered by start time, newest window
// first. Private contests are omitted unless the query asks for them.
func (s *SQLiteStore) ListContests(ctx context.Context, q ContestQuery) ([]typing.Contest, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + contestColumns + ` FROM contests`
	if !q.IncludePrivate {
		query += ` WHERE visibility = 'public'`
	}
	query += ` ORDER BY starts_at_unix_ms DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list contests: %w", err)
	}
	defer rows.Close()

	var contests []typing.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contests: %w", err)
	}
	return contests, nil
}

// DeleteContest removes a contest. Sessions, keystrokes, entries, and
// prompt links cascade away with it.
func (s *SQLiteStore) DeleteContest(ctx context.Context, contestID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM contests WHERE contest_id = ?
	`, contestID)
	if err != nil {
		return fmt.Errorf("failed to delete contest: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrContestNotFound
	}
	return nil
}

// SetContestPrompts replaces the contest's ordered prompt set as a whole.
func (s *SQLiteStore) SetContestPrompts(ctx context.Context, contestID string, promptIDs []string) error {
	if contestID == "" {
		return typing.ValidationError(typing.ReasonBadPayload)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getContest(ctx, tx, contestID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM contest_prompts WHERE contest_id = ?
		`, contestID); err != nil {
			return fmt.Errorf("failed to clear contest prompts: %w", err)
		}

		for i, promptID := range promptIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO contest_prompts (contest_id, prompt_id, order_index)
				VALUES (?, ?, ?)
			`, contestID, promptID, i)
			if err != nil {
				if isForeignKeyError(err) {
					return ErrPromptNotFound
				}
				if isDuplicateKeyError(err) {
					return typing.ValidationError(typing.ReasonBadPayload)
				}
				return fmt.Errorf("failed to link prompt %s: %w", promptID, err)
			}
		}
		return nil
	})
}

// GetContestPrompts returns the contest's prompt set in pool order.
func (s *SQLiteStore) GetContestPrompts(ctx context.Context, contestID string) ([]typing.Prompt, error) {
	if _, err := getContest(ctx, s.db, contestID); err != nil {
		return nil, err
	}
	return listContestPrompts(ctx, s.db, contestID)
}

func listContestPrompts(ctx context.Context, q dbtx, contestID string) ([]typing.Prompt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.prompt_id, p.language, p.display_text, p.typing_target, p.tags, p.is_active, p.created_at_unix_ms
		FROM contest_prompts cp
		JOIN prompts p ON p.prompt_id = cp.prompt_id
		WHERE cp.contest_id = ?
		ORDER BY cp.order_index ASC
	`, contestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contest prompts: %w", err)
	}
	defer rows.Close()

	var prompts []typing.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contest prompts: %w", err)
	}
	return prompts, nil
}

func getContest(ctx context.Context, q dbtx, contestID string) (*typing.Contest, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+contestColumns+` FROM contests WHERE contest_id = ?
	`, contestID)
	c, err := scanContest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContestNotFound
	}
	return c, err
}

func scanContest(row rowScanner) (*typing.Contest, error) {
	var c typing.Contest
	var joinCode sql.NullString
	var startsAt, endsAt, createdAt int64
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.Visibility, &joinCode,
		&startsAt, &endsAt, &c.Timezone, &c.TimeLimitSec, &c.MaxAttempts,
		&c.AllowBackspace, &c.LeaderboardVisibility, &c.Language,
		&c.CreatedBy, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan contest: %w", err)
	}
	c.JoinCode = stringPtr(joinCode)
	c.StartsAt = msTime(startsAt)
	c.EndsAt = msTime(endsAt)
	c.CreatedAt = msTime(createdAt)
	return &c, nil
}

func validLanguage(l typing.Language) bool {
	switch l {
	case typing.LanguageRomaji, typing.LanguageEnglish, typing.LanguageKana:
		return true
	}
	return false
}
