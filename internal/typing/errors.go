package typing

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for transport mapping. Anything that is
// not one of the three domain kinds is internal.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// Machine-readable validation reasons surfaced to clients.
const (
	ReasonContestNotRunning = "CONTEST_NOT_RUNNING"
	ReasonNotJoined         = "NOT_JOINED"
	ReasonAttemptsExhausted = "ATTEMPTS_EXHAUSTED"
	ReasonJoinCodeInvalid   = "JOIN_CODE_INVALID"
	ReasonLeaderboardHidden = "LEADERBOARD_HIDDEN"
	ReasonNoPrompts         = "NO_PROMPTS"
	ReasonBadCredentials    = "BAD_CREDENTIALS"
	ReasonTokenInvalid      = "TOKEN_INVALID"
	ReasonBadPayload        = "BAD_PAYLOAD"
	ReasonInvalidSchedule   = "INVALID_SCHEDULE"
	ReasonInvalidTimeLimit  = "INVALID_TIME_LIMIT"
	ReasonJoinCodeRequired  = "JOIN_CODE_REQUIRED"
)

// Machine-readable not-found reasons.
const (
	ReasonUserNotFound    = "USER_NOT_FOUND"
	ReasonContestNotFound = "CONTEST_NOT_FOUND"
	ReasonPromptNotFound  = "PROMPT_NOT_FOUND"
	ReasonSessionNotFound = "SESSION_NOT_FOUND"
	ReasonEntryNotFound   = "ENTRY_NOT_FOUND"
	ReasonTokenNotFound   = "TOKEN_NOT_FOUND"
)

// Machine-readable conflict reasons.
const (
	ReasonSessionTerminal = "SESSION_TERMINAL"
	ReasonUsernameTaken   = "USERNAME_TAKEN"
	ReasonEmailTaken      = "EMAIL_TAKEN"
	ReasonPromptInUse     = "PROMPT_IN_USE"
)

// Error is a domain error with a taxonomy kind and a short machine-readable
// reason. The reason is safe to embed in responses; wrapped causes are not.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFoundError constructs a NOT_FOUND domain error.
func NotFoundError(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

// ValidationError constructs a VALIDATION domain error.
func ValidationError(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

// ConflictError constructs a CONFLICT domain error.
func ConflictError(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

// KindOf extracts the taxonomy kind from err, defaulting to internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ReasonOf extracts the machine-readable reason, or "" for internal errors.
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}
