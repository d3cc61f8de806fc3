// Package typing defines the domain model shared by the contest core:
// users, contests, prompts, entries, sessions, keystrokes, and the
// attempt payload submitted when a session finishes.
package typing

import "time"

// Role identifies what a user is allowed to do.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Visibility controls who can discover and join a contest.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// LeaderboardVisibility controls when the ranking may be shown.
type LeaderboardVisibility string

const (
	LeaderboardDuring LeaderboardVisibility = "during"
	LeaderboardAfter  LeaderboardVisibility = "after"
	LeaderboardHidden LeaderboardVisibility = "hidden"
)

// Language tags the prompt pool a contest draws from.
type Language string

const (
	LanguageRomaji  Language = "romaji"
	LanguageEnglish Language = "english"
	LanguageKana    Language = "kana"
)

// SessionStatus is the attempt state machine. A session starts running and
// is terminalized exactly once into one of the other three states.
type SessionStatus string

const (
	StatusRunning  SessionStatus = "running"
	StatusFinished SessionStatus = "finished"
	StatusExpired  SessionStatus = "expired"
	StatusDQ       SessionStatus = "dq"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s != StatusRunning
}

// Contest time limit bounds in seconds.
const (
	MinTimeLimitSec = 10
	MaxTimeLimitSec = 600
)

// MaxKeylogEntries bounds how many keystroke rows are persisted per session
// and is the threshold beyond which a submitted keylog disqualifies.
const MaxKeylogEntries = 2000

// User is a registered account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Contest is a scheduled typing competition with its participation rules.
type Contest struct {
	ID                    string
	Title                 string
	Description           string
	Visibility            Visibility
	JoinCode              *string // non-nil iff Visibility is private
	StartsAt              time.Time
	EndsAt                time.Time
	Timezone              string
	TimeLimitSec          int
	MaxAttempts           int
	AllowBackspace        bool
	LeaderboardVisibility LeaderboardVisibility
	Language              Language
	CreatedBy             string
	CreatedAt             time.Time
}

// Prompt is a (displayText, typingTarget) pair. TypingTarget is the
// authoritative character sequence a participant must reproduce.
type Prompt struct {
	ID           string
	Language     Language
	DisplayText  string
	TypingTarget string
	Tags         []string
	IsActive     bool
	CreatedAt    time.Time
}

// ContestPrompt links a prompt into a contest's ordered pool.
type ContestPrompt struct {
	ContestID  string
	PromptID   string
	OrderIndex int
}

// Entry is the per-(user, contest) aggregate: attempts used and the
// best-ever finished metrics. The best fields are all nil until a finished
// session improves on them, and then always move together.
type Entry struct {
	UserID        string
	ContestID     string
	AttemptsUsed  int
	BestScore     *int64
	BestCPM       *float64
	BestAccuracy  *float64
	LastAttemptAt *time.Time
	JoinedAt      time.Time
}

// Session is a single attempt.
type Session struct {
	ID           string
	UserID       string
	ContestID    string
	PromptID     string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	CPM          *float64
	WPM          *float64
	Accuracy     *float64
	Errors       *int64
	Score        *int64
	DefocusCount int
	PasteBlocked bool
	AnomalyScore *float64
	DQReason     *string
}

// Keystroke is one persisted keylog row. Idx is dense from zero and TMs is
// non-decreasing within a session.
type Keystroke struct {
	SessionID string
	Idx       int
	TMs       int64
	Key       string
	OK        bool
}

// RefreshToken stores only the hash of an issued refresh token.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
