// Package leaderboard projects finished sessions into a deterministically
// ordered, competition-ranked standing. The projector is pure: storage
// supplies the rows, the realtime hub fans the snapshots out.
package leaderboard

import (
	"cmp"
	"slices"
	"time"
)

// TopSize is how many rows a summary carries for fan-out and previews.
const TopSize = 10

// Row is one finished session joined with the player's username.
type Row struct {
	SessionID string
	UserID    string
	Username  string
	Score     int64
	Accuracy  float64
	CPM       float64
	WPM       float64
	EndedAt   time.Time
}

// RankedRow is a Row with its competition rank assigned.
type RankedRow struct {
	Rank int
	Row
}

// Summary is the compact projection published to subscribers.
type Summary struct {
	Top   []RankedRow
	Total int
}

// Compare orders two rows best-first: score, then accuracy, then CPM, all
// descending, with earlier EndedAt breaking residual ties. Zero means the
// rows are fully tied and share a rank.
func Compare(a, b Row) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Accuracy, a.Accuracy); c != 0 {
		return c
	}
	if c := cmp.Compare(b.CPM, a.CPM); c != 0 {
		return c
	}
	return a.EndedAt.Compare(b.EndedAt)
}

// Build sorts rows into standing order and assigns competition ranks:
// fully tied rows share a rank and the next distinct row takes its
// positional rank (1, 2, 2, 4). The input slice is not modified.
func Build(rows []Row) ([]RankedRow, Summary) {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, Compare)

	ranked := make([]RankedRow, len(sorted))
	for i, row := range sorted {
		rank := i + 1
		if i > 0 && Compare(sorted[i-1], row) == 0 {
			rank = ranked[i-1].Rank
		}
		ranked[i] = RankedRow{Rank: rank, Row: row}
	}

	top := ranked
	if len(top) > TopSize {
		top = top[:TopSize]
	}
	return ranked, Summary{Top: slices.Clone(top), Total: len(ranked)}
}

// PersonalRank returns the first-ranked row owned by userID, or false if
// the user has no row. Callers wanting best-per-user semantics must
// deduplicate rows before Build.
func PersonalRank(ranked []RankedRow, userID string) (RankedRow, bool) {
	for _, row := range ranked {
		if row.UserID == userID {
			return row, true
		}
	}
	return RankedRow{}, false
}
