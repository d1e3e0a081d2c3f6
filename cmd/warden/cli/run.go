package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/facade"
)

var (
	runDir     string
	runUser    int64
	runSession string
	runNew     bool
	runQuiet   bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Execute a prompt through the codex agent",
	Long: `Run sends a prompt to the codex CLI inside the approved directory.
Sessions resume automatically: a recent session for the same user and
directory is continued unless --new forces a fresh one.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runPrompt(strings.Join(args, " "))
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "Working directory (defaults to the approved directory)")
	runCmd.Flags().Int64VarP(&runUser, "user", "u", 0, "Logical user ID owning the session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Resume a specific session ID")
	runCmd.Flags().BoolVar(&runNew, "new", false, "Start a fresh session instead of resuming")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress streaming output, print only the final response")
}

func runPrompt(prompt string) {
	app, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	dir := runDir
	if dir == "" {
		dir = app.cfg.ApprovedDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newStreamPrinter(os.Stdout, jsonLog || runQuiet)

	req := facade.RunRequest{
		Prompt:     prompt,
		WorkingDir: dir,
		UserID:     runUser,
		SessionID:  runSession,
		ForceNew:   runNew,
	}
	if !runQuiet {
		req.OnStream = printer.update
	}

	start := time.Now()
	result, err := app.facade.Run(ctx, req)
	printer.done()
	if err != nil {
		printer.errorf("Execution failed: %v", err)
		os.Exit(1)
	}

	if runQuiet || !printer.sawText {
		fmt.Println(result.Content)
	}
	app.obs.Log().Info().
		Str("session_id", result.SessionID).
		Int("turns", result.NumTurns).
		Str("duration", time.Since(start).Round(time.Millisecond).String()).
		Msg("run complete")
}
