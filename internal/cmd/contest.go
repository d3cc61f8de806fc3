package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/policy"
	"github.com/ryoh/typerank/internal/storage"
	"github.com/ryoh/typerank/internal/typing"
)

var contestCmd = &cobra.Command{
	Use:   "contest",
	Short: "Manage contests",
}

var (
	contestTitle       string
	contestDesc        string
	contestVisibility  string
	contestJoinCode    string
	contestStarts      string
	contestEnds        string
	contestDuration    string
	contestTimezone    string
	contestTimeLimit   int
	contestMaxAttempts int
	contestLanguage    string
	contestBoard       string
	contestBackspace   bool
	contestCreator     string
)

var contestCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a contest",
	Long: `Create a contest with a schedule and participation rules.

The window is half-open: the contest runs from --starts (inclusive) to
--ends (exclusive). Give --duration instead of --ends to schedule a
fixed-length window.

Examples:
  typerankctl contest create --title "Friday Sprint" --creator ryoh \
    --starts 2026-09-04T12:00:00Z --duration 90m

  typerankctl contest create --title "Invitational" --creator ryoh \
    --starts 2026-09-04T12:00:00Z --ends 2026-09-05T12:00:00Z \
    --visibility private --join-code SECRET7 --leaderboard after`,
	RunE: runContestCreate,
}

var (
	contestListAll   bool
	contestListLimit int
)

var contestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contests",
	RunE:  runContestList,
}

var contestDeleteCmd = &cobra.Command{
	Use:   "delete <contestID>",
	Short: "Delete a contest and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runContestDelete,
}

var contestPromptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage a contest's prompt pool",
}

var contestPromptsSetCmd = &cobra.Command{
	Use:   "set <contestID> <promptID>...",
	Short: "Replace a contest's prompt pool",
	Long: `Replace the contest's prompt pool with the given prompts, in order.
Attempts cycle through the pool: the first attempt gets the first
prompt, the second the next, wrapping around at the end.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runContestPromptsSet,
}

func init() {
	f := contestCreateCmd.Flags()
	f.StringVar(&contestTitle, "title", "", "Contest title (required)")
	f.StringVar(&contestDesc, "desc", "", "Contest description")
	f.StringVar(&contestVisibility, "visibility", "public", "public or private")
	f.StringVar(&contestJoinCode, "join-code", "", "Join code (required for private contests)")
	f.StringVar(&contestStarts, "starts", "", "Window start, RFC3339 (required)")
	f.StringVar(&contestEnds, "ends", "", "Window end, RFC3339")
	f.StringVar(&contestDuration, "duration", "", "Window length from --starts (e.g. 90m, 24h)")
	f.StringVar(&contestTimezone, "timezone", "UTC", "Display timezone stored with the contest")
	f.IntVar(&contestTimeLimit, "time-limit", 60, "Per-attempt time limit in seconds")
	f.IntVar(&contestMaxAttempts, "max-attempts", 3, "Attempts allowed per participant")
	f.StringVar(&contestLanguage, "language", "romaji", "Prompt language: romaji, english, or kana")
	f.StringVar(&contestBoard, "leaderboard", "during", "Leaderboard visibility: during, after, or hidden")
	f.BoolVar(&contestBackspace, "allow-backspace", false, "Let participants correct mistakes")
	f.StringVar(&contestCreator, "creator", "", "Username the contest is created by (required)")

	contestListCmd.Flags().BoolVar(&contestListAll, "all", false, "Include private contests")
	contestListCmd.Flags().IntVar(&contestListLimit, "limit", 50, "Maximum number of contests to show")

	contestPromptsCmd.AddCommand(contestPromptsSetCmd)
	contestCmd.AddCommand(contestCreateCmd)
	contestCmd.AddCommand(contestListCmd)
	contestCmd.AddCommand(contestDeleteCmd)
	contestCmd.AddCommand(contestPromptsCmd)
}

func runContestCreate(cmd *cobra.Command, args []string) error {
	if contestTitle == "" {
		return errors.New("--title is required")
	}
	if contestCreator == "" {
		return errors.New("--creator is required")
	}

	starts, ends, err := parseSchedule(contestStarts, contestEnds, contestDuration)
	if err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creator, err := store.GetUserByUsername(ctx, contestCreator)
	if err != nil {
		return fmt.Errorf("unknown user %q: %w", contestCreator, err)
	}

	c := &typing.Contest{
		Title:                 contestTitle,
		Description:           contestDesc,
		Visibility:            typing.Visibility(contestVisibility),
		StartsAt:              starts,
		EndsAt:                ends,
		Timezone:              contestTimezone,
		TimeLimitSec:          contestTimeLimit,
		MaxAttempts:           contestMaxAttempts,
		AllowBackspace:        contestBackspace,
		LeaderboardVisibility: typing.LeaderboardVisibility(contestBoard),
		Language:              typing.Language(contestLanguage),
		CreatedBy:             creator.ID,
	}
	if contestJoinCode != "" {
		c.JoinCode = &contestJoinCode
	}

	if err := store.CreateContest(ctx, c); err != nil {
		return fmt.Errorf("failed to create contest: %w", err)
	}

	fmt.Printf("Created contest %s%s%s\n", colorGreen, c.ID, colorReset)
	fmt.Printf("  title:   %s\n", c.Title)
	fmt.Printf("  window:  %s .. %s\n", formatUTC(c.StartsAt), formatUTC(c.EndsAt))
	fmt.Printf("  rules:   %ds per attempt, %d attempts, language %s\n", c.TimeLimitSec, c.MaxAttempts, c.Language)
	if c.Visibility == typing.VisibilityPrivate {
		fmt.Printf("  join:    %sprivate%s, code %s\n", colorYellow, colorReset, *c.JoinCode)
	}
	return nil
}

// parseSchedule resolves the --starts/--ends/--duration trio into a
// contest window. Exactly one of ends and duration must be given.
func parseSchedule(starts, ends, duration string) (time.Time, time.Time, error) {
	var zero time.Time
	if starts == "" {
		return zero, zero, errors.New("--starts is required (RFC3339, e.g. 2026-09-04T12:00:00Z)")
	}
	st, err := time.Parse(time.RFC3339, starts)
	if err != nil {
		return zero, zero, fmt.Errorf("invalid --starts: %w", err)
	}

	switch {
	case ends != "" && duration != "":
		return zero, zero, errors.New("give either --ends or --duration, not both")
	case ends != "":
		en, err := time.Parse(time.RFC3339, ends)
		if err != nil {
			return zero, zero, fmt.Errorf("invalid --ends: %w", err)
		}
		return st, en, nil
	case duration != "":
		d, err := time.ParseDuration(duration)
		if err != nil {
			return zero, zero, fmt.Errorf("invalid --duration: %w", err)
		}
		if d <= 0 {
			return zero, zero, errors.New("--duration must be positive")
		}
		return st, st.Add(d), nil
	default:
		return zero, zero, errors.New("--ends or --duration is required")
	}
}

func runContestList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contests, err := store.ListContests(ctx, storage.ContestQuery{
		IncludePrivate: contestListAll,
		Limit:          contestListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list contests: %w", err)
	}

	if len(contests) == 0 {
		fmt.Println("No contests.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%s%s %s %s %s %s%s\n", colorBold,
		padCell("ID", 36), padCell("TITLE", 24), padCell("STATUS", 9),
		padCell("LANG", 7), padCell("STARTS (UTC)", 16), colorReset)
	for i := range contests {
		c := &contests[i]
		status := policy.Status(c, now)
		fmt.Printf("%s %s %s%s%s %s %s\n",
			padCell(c.ID, 36), padCell(c.Title, 24),
			statusColor(status), padCell(string(status), 9), colorReset,
			padCell(string(c.Language), 7), formatUTC(c.StartsAt))
	}
	fmt.Println()
	fmt.Printf("%s%d contest(s)%s\n", colorDim, len(contests), colorReset)
	return nil
}

func statusColor(s policy.ContestStatus) string {
	switch s {
	case policy.StatusRunning:
		return colorGreen
	case policy.StatusScheduled:
		return colorCyan
	default:
		return colorDim
	}
}

func runContestDelete(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contestID := args[0]
	if err := store.DeleteContest(ctx, contestID); err != nil {
		return fmt.Errorf("failed to delete contest: %w", err)
	}

	fmt.Printf("Deleted contest %s (sessions, entries, and prompt links included)\n", contestID)
	return nil
}

func runContestPromptsSet(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contestID, promptIDs := args[0], args[1:]
	if err := store.SetContestPrompts(ctx, contestID, promptIDs); err != nil {
		return fmt.Errorf("failed to set contest prompts: %w", err)
	}

	fmt.Printf("Contest %s now cycles through %d prompt(s)\n", contestID, len(promptIDs))
	return nil
}
