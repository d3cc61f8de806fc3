// Package storage provides SQLite-backed persistence for the contest
// platform and hosts the transactional session core: starting attempts,
// finishing them through the evaluator, entry best-score bookkeeping, and
// the leaderboard read. The HTTP layer never touches SQL directly.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ryoh/typerank/internal/leaderboard"
	"github.com/ryoh/typerank/internal/replay"
	"github.com/ryoh/typerank/internal/scoring"
	"github.com/ryoh/typerank/internal/typing"
)

// Leaderboard read limits.
const (
	DefaultLeaderboardLimit = 100
	MaxLeaderboardLimit     = 500
)

// Store defines the interface for all persistence operations.
// SQLiteStore is the only implementation; the interface exists so the
// transport can be tested against a seeded store without HTTP concerns
// leaking into SQL.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *typing.User) error
	GetUser(ctx context.Context, userID string) (*typing.User, error)
	GetUserByUsername(ctx context.Context, username string) (*typing.User, error)
	SetUserRole(ctx context.Context, userID string, role typing.Role) error

	// Contests
	CreateContest(ctx context.Context, c *typing.Contest) error
	GetContest(ctx context.Context, contestID string) (*typing.Contest, error)
	ListContests(ctx context.Context, q ContestQuery) ([]typing.Contest, error)
	DeleteContest(ctx context.Context, contestID string) error
	SetContestPrompts(ctx context.Context, contestID string, promptIDs []string) error
	GetContestPrompts(ctx context.Context, contestID string) ([]typing.Prompt, error)

	// Prompts
	CreatePrompt(ctx context.Context, p *typing.Prompt) error
	GetPrompt(ctx context.Context, promptID string) (*typing.Prompt, error)
	ListPrompts(ctx context.Context, q PromptQuery) ([]typing.Prompt, error)
	DeletePrompt(ctx context.Context, promptID string) error

	// Entries
	JoinContest(ctx context.Context, contestID, userID, joinCode string, now time.Time) (*typing.Entry, error)
	GetEntry(ctx context.Context, contestID, userID string) (*typing.Entry, error)

	// Sessions: the transactional core
	StartSession(ctx context.Context, contestID, userID string, now time.Time) (*StartResult, error)
	FinishSession(ctx context.Context, sessionID, userID string, payload *typing.FinishPayload, now time.Time) (*FinishResult, error)
	GetSession(ctx context.Context, sessionID string) (*typing.Session, error)
	GetKeystrokes(ctx context.Context, sessionID string) ([]typing.Keystroke, error)
	ExpireStaleSessions(ctx context.Context, now time.Time) (int64, error)

	// Leaderboard
	LeaderboardRows(ctx context.Context, contestID string, limit int) ([]leaderboard.Row, error)

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, t *typing.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*typing.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tokenID string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error)
	PruneExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// StartResult is what startSession hands back to the transport.
type StartResult struct {
	SessionID         string
	Prompt            typing.Prompt
	StartedAt         time.Time
	AttemptsUsed      int
	AttemptsRemaining int
}

// FinishResult is the terminal outcome of an attempt. ContestID rides
// along so the caller can publish the refreshed leaderboard after commit.
type FinishResult struct {
	SessionID    string
	ContestID    string
	Status       typing.SessionStatus
	Stats        scoring.Stats
	Issues       []typing.Issue
	Anomaly      replay.IntervalStats
	Flags        typing.ClientFlags
	BestUpdated  bool
	AttemptsUsed int
	EndedAt      time.Time
}

// ContestQuery defines parameters for listing contests.
type ContestQuery struct {
	IncludePrivate bool
	Limit          int
	Offset         int
}

// PromptQuery defines parameters for listing prompts.
type PromptQuery struct {
	Language   typing.Language // empty = all
	ActiveOnly bool
	Limit      int
	Offset     int
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// row loaders can serve both plain reads and transactional ones.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func unixMs(t time.Time) int64 {
	return t.UnixMilli()
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixMs(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := msTime(v.Int64)
	return &t
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullableFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullableInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
