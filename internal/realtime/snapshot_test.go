package realtime

import (
	"testing"
	"time"

	"github.com/ryoh/typerank/internal/leaderboard"
)

func TestChannel(t *testing.T) {
	t.Parallel()

	if got := Channel("abc"); got != "contest:abc:leaderboard" {
		t.Errorf("Channel(abc) = %q", got)
	}
	if got := Channel("*"); got != "contest:*:leaderboard" {
		t.Errorf("Channel(*) = %q", got)
	}
}

func TestNewSnapshot(t *testing.T) {
	t.Parallel()

	ended := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	rows := []leaderboard.Row{
		{SessionID: "s1", UserID: "u1", Username: "alice", Score: 90, Accuracy: 1.0, CPM: 180, WPM: 36, EndedAt: ended},
		{SessionID: "s2", UserID: "u2", Username: "bob", Score: 60, Accuracy: 0.9, CPM: 150, WPM: 30, EndedAt: ended},
	}
	_, summary := leaderboard.Build(rows)

	now := time.Date(2026, 3, 14, 13, 0, 0, 0, time.FixedZone("JST", 9*3600))
	snap := NewSnapshot("c1", summary, now)

	if snap.ContestID != "c1" {
		t.Errorf("ContestID = %q, want c1", snap.ContestID)
	}
	if snap.Total != 2 {
		t.Errorf("Total = %d, want 2", snap.Total)
	}
	if !snap.GeneratedAt.Equal(now) || snap.GeneratedAt.Location() != time.UTC {
		t.Errorf("GeneratedAt = %v, want %v in UTC", snap.GeneratedAt, now)
	}
	if len(snap.Top) != 2 {
		t.Fatalf("len(Top) = %d, want 2", len(snap.Top))
	}

	first := snap.Top[0]
	if first.Rank != 1 || first.Username != "alice" || first.Score != 90 {
		t.Errorf("Top[0] = %+v, want rank 1 alice 90", first)
	}
	second := snap.Top[1]
	if second.Rank != 2 || second.Username != "bob" {
		t.Errorf("Top[1] = %+v, want rank 2 bob", second)
	}
}
