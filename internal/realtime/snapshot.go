package realtime

import (
	"time"

	"github.com/ryoh/typerank/internal/leaderboard"
)

// Standing is one ranked leaderboard line in wire form. The same shape is
// served over the REST leaderboard endpoint and pushed to WebSocket and
// Redis subscribers, so clients decode a single schema.
type Standing struct {
	Rank     int       `json:"rank"`
	Username string    `json:"username"`
	Score    int64     `json:"score"`
	Accuracy float64   `json:"accuracy"`
	CPM      float64   `json:"cpm"`
	WPM      float64   `json:"wpm"`
	EndedAt  time.Time `json:"endedAt"`
}

// Snapshot is a point-in-time view of one contest's leaderboard. Origin
// identifies the node that produced it so the Redis bridge can ignore its
// own broadcasts.
type Snapshot struct {
	ContestID   string     `json:"contestId"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Top         []Standing `json:"top"`
	Total       int        `json:"total"`
	Origin      string     `json:"origin,omitempty"`
}

// NewSnapshot converts a leaderboard summary into its wire form.
func NewSnapshot(contestID string, summary leaderboard.Summary, now time.Time) *Snapshot {
	top := make([]Standing, len(summary.Top))
	for i, row := range summary.Top {
		top[i] = NewStanding(row)
	}
	return &Snapshot{
		ContestID:   contestID,
		GeneratedAt: now.UTC(),
		Top:         top,
		Total:       summary.Total,
	}
}

// NewStanding converts one ranked row into its wire form.
func NewStanding(row leaderboard.RankedRow) Standing {
	return Standing{
		Rank:     row.Rank,
		Username: row.Username,
		Score:    row.Score,
		Accuracy: row.Accuracy,
		CPM:      row.CPM,
		WPM:      row.WPM,
		EndedAt:  row.EndedAt,
	}
}

// Channel returns the pub/sub channel that carries a contest's leaderboard
// snapshots. Passing "*" yields the pattern the bridge subscribes with.
func Channel(contestID string) string {
	return "contest:" + contestID + ":leaderboard"
}
