package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loopwatch/loopwatch/internal/update"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "loopwatch",
	Short: "Run a coding agent in a loop and watch it work",
	Long: `Loopwatch runs an AI coding agent in continuous iterations, one task at a
time, until the work is done, the agent signals it is stuck, or a limit is
reached. Progress is shown in a live terminal dashboard and every iteration
is kept in a local history.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "loopwatch %s\n", version)
		if notice := update.NewChecker(update.DefaultCacheDir()).Notice(cmd.Context(), version); notice != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), notice)
		}
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade loopwatch to the latest release",
	Long:  `Downloads the latest release from GitHub and replaces the running binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Current version: %s\n", version)
		fmt.Fprintln(out, "Checking for updates...")

		rel, err := update.Upgrade(cmd.Context(), version)
		if err != nil {
			return fmt.Errorf("upgrade: %w", err)
		}
		fmt.Fprintf(out, "Upgraded to %s\n", rel.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
