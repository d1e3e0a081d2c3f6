package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sessionsUser int64

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and maintain codex sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's sessions, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer app.close()

		sessions, err := app.facade.UserSessions(context.Background(), sessionsUser)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return
		}
		for _, s := range sessions {
			age := time.Since(s.LastUsed).Round(time.Minute)
			fmt.Printf("%s  %s  last used %s ago  %d messages  %d turns\n",
				s.ID, s.WorkingDir, age, s.MessageCount, s.TotalTurns)
		}
	},
}

var sessionsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a user's session and tool-usage summary",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer app.close()

		summary, usage, err := app.facade.UserSummary(context.Background(), sessionsUser)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to summarize: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("User %d: %d sessions (%d active), %d messages\n",
			summary.UserID, summary.TotalSessions, summary.Active, summary.TotalMessages)
		for _, p := range summary.Projects {
			fmt.Printf("  project: %s\n", p)
		}
		if usage.Violations > 0 {
			fmt.Printf("  policy violations: %d\n", usage.Violations)
			for _, k := range usage.ViolationKinds {
				fmt.Printf("    - %s\n", k)
			}
		}
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired sessions from the registry",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer app.close()

		removed, err := app.facade.CleanupExpiredSessions(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d expired sessions.\n", removed)
	},
}

var sessionsToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show aggregate tool authorization stats",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := buildApp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer app.close()

		stats := app.facade.ToolStats()
		fmt.Printf("%d tool calls across %d tools, %d violations\n",
			stats.TotalCalls, stats.UniqueTools, stats.Violations)
		for tool, count := range stats.ByTool {
			fmt.Printf("  %s: %d\n", tool, count)
		}
	},
}

func init() {
	RootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSummaryCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
	sessionsCmd.AddCommand(sessionsToolsCmd)
	sessionsCmd.PersistentFlags().Int64VarP(&sessionsUser, "user", "u", 0, "Logical user ID")
}
