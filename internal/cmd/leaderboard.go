package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/leaderboard"
)

var leaderboardCmd = &cobra.Command{
	Use:     "leaderboard",
	Aliases: []string{"lb"},
	Short:   "Inspect contest leaderboards",
}

var leaderboardShowLimit int

var leaderboardShowCmd = &cobra.Command{
	Use:   "show <contestID>",
	Short: "Print a contest's current standings",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeaderboardShow,
}

func init() {
	leaderboardShowCmd.Flags().IntVar(&leaderboardShowLimit, "limit", 25, "Maximum number of standings to show")

	leaderboardCmd.AddCommand(leaderboardShowCmd)
	leaderboardCmd.AddCommand(leaderboardWatchCmd)
}

func runLeaderboardShow(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contestID := args[0]
	contest, err := store.GetContest(ctx, contestID)
	if err != nil {
		return fmt.Errorf("failed to load contest: %w", err)
	}

	limit := leaderboardShowLimit
	if limit < 1 || limit > cfg.Leaderboard.MaxLimit {
		limit = cfg.Leaderboard.MaxLimit
	}
	rows, err := store.LeaderboardRows(ctx, contestID, limit)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}
	ranked, summary := leaderboard.Build(rows)

	initColorProfile()
	fmt.Println(headerStyle.Render(contest.Title))
	fmt.Println(faintStyle.Render(fmt.Sprintf("%s .. %s", formatUTC(contest.StartsAt), formatUTC(contest.EndsAt))))
	fmt.Println()

	if len(ranked) == 0 {
		fmt.Println("No finished attempts yet.")
		return nil
	}

	fmt.Println(renderStandingsTable(ranked))
	fmt.Println(faintStyle.Render(fmt.Sprintf("%d finished attempt(s)", summary.Total)))
	return nil
}

// Standings table column widths (display columns).
const (
	colRank   = 4
	colPlayer = 20
	colScore  = 8
	colCPM    = 8
	colAcc    = 7
	colWhen   = 16
)

// renderStandingsTable renders ranked rows as an aligned table with the
// top three ranks in medal colors.
func renderStandingsTable(ranked []leaderboard.RankedRow) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(
		padCell("#", colRank) + " " +
			padCell("PLAYER", colPlayer) + " " +
			padCell("SCORE", colScore) + " " +
			padCell("CPM", colCPM) + " " +
			padCell("ACC", colAcc) + " " +
			padCell("FINISHED (UTC)", colWhen)))
	b.WriteByte('\n')

	for _, row := range ranked {
		style := rankStyle(row.Rank)
		line := padCell(fmt.Sprintf("%d", row.Rank), colRank) + " " +
			padCell(row.Username, colPlayer) + " " +
			padCell(fmt.Sprintf("%d", row.Score), colScore) + " " +
			padCell(fmt.Sprintf("%.1f", row.CPM), colCPM) + " " +
			padCell(formatAccuracy(row.Accuracy), colAcc) + " " +
			padCell(formatUTC(row.EndedAt), colWhen)
		b.WriteString(style.Render(line))
		b.WriteByte('\n')
	}

	return b.String()
}
