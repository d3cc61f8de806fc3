package typing

import "strings"

// Issue is a machine-readable flag raised while validating a submitted
// attempt. Issues are accumulated as a set: recording the same issue twice
// is a no-op.
type Issue string

// Issues raised by keylog replay.
const (
	IssueInvalidTimestamp   Issue = "INVALID_TIMESTAMP"
	IssueNegativeTimestamp  Issue = "NEGATIVE_TIMESTAMP"
	IssueTimestampNotSorted Issue = "TIMESTAMP_NOT_SORTED"
	IssueKeyLimitExceeded   Issue = "KEY_LIMIT_EXCEEDED"
)

// Issues raised by the session evaluator.
const (
	IssueEntryNotFound      Issue = "ENTRY_NOT_FOUND"
	IssueMetricMismatch     Issue = "METRIC_MISMATCH"
	IssueErrorCountMismatch Issue = "ERROR_COUNT_MISMATCH"
	IssuePromptNotCompleted Issue = "PROMPT_NOT_COMPLETED"
	IssueBackspaceForbidden Issue = "BACKSPACE_FORBIDDEN"
	IssueTimeLimitExceeded  Issue = "TIME_LIMIT_EXCEEDED"
	IssueLowVarianceTyping  Issue = "LOW_VARIANCE_TYPING"
)

// AppendIssue adds issue to set unless it is already present, preserving
// first-seen order.
func AppendIssue(set []Issue, issue Issue) []Issue {
	for _, have := range set {
		if have == issue {
			return set
		}
	}
	return append(set, issue)
}

// HasIssue reports whether set contains issue.
func HasIssue(set []Issue, issue Issue) bool {
	for _, have := range set {
		if have == issue {
			return true
		}
	}
	return false
}

// JoinIssues renders a set as a comma-separated string, the form stored in
// a session's dq_reason column.
func JoinIssues(set []Issue) string {
	if len(set) == 0 {
		return ""
	}
	parts := make([]string, len(set))
	for i, issue := range set {
		parts[i] = string(issue)
	}
	return strings.Join(parts, ",")
}
