package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	jsonLog bool
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Session-aware execution engine for the codex CLI",
	Long: `Warden drives the external codex coding agent on behalf of many logical
sessions: it resumes conversations across invocations, gates the tool calls
the agent attempts, and recovers from stale-session failures.`,
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "JSON log output")
}
