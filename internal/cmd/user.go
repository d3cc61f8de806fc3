package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryoh/typerank/internal/typing"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userPromoteCmd = &cobra.Command{
	Use:   "promote <username>",
	Short: "Grant a user the admin role",
	Long: `Grant a user the admin role.

Admins can create and delete contests, manage prompts, and read hidden
leaderboards. The role is embedded in access tokens when they are
issued, so the user must log in again before the promotion takes
effect.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserPromote,
}

func init() {
	userCmd.AddCommand(userPromoteCmd)
}

func runUserPromote(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	username := args[0]
	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("unknown user %q: %w", username, err)
	}
	if user.Role == typing.RoleAdmin {
		fmt.Printf("%s is already an admin\n", username)
		return nil
	}

	if err := store.SetUserRole(ctx, user.ID, typing.RoleAdmin); err != nil {
		return fmt.Errorf("failed to promote user: %w", err)
	}

	fmt.Printf("Promoted %s%s%s to admin\n", colorGreen, username, colorReset)
	fmt.Printf("%sExisting tokens keep the old role; the user must log in again.%s\n", colorDim, colorReset)
	return nil
}
