// Package agent drives the external codex CLI: it builds the argv for one
// execution, spawns the process, folds its streamed JSONL events into a
// Result, and gates tool calls through an authorization callback.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/observe"
)

// continuePlaceholder substitutes an empty prompt in continuation mode;
// the codex binary requires a non-empty prompt argument.
const continuePlaceholder = "Please continue where we left off."

// fallbackContent is returned when neither the last-message sink nor the
// streamed fragments produced any assistant text.
const fallbackContent = "I could not produce a final response for that request. " +
	"Please try again or rephrase."

// maxEventLine bounds one stdout JSONL line.
const maxEventLine = 4 * 1024 * 1024

// ToolCall is one admitted tool invocation: canonical name plus input.
type ToolCall struct {
	Name  Tool           `json:"name"`
	Input map[string]any `json:"input"`
}

// StreamUpdate is a transient progress event forwarded to the streaming
// callback. Never persisted.
type StreamUpdate struct {
	Type      string
	Content   string
	ToolCalls []ToolCall
	EventType string
}

// StreamFunc receives StreamUpdates during execution. Purely
// observational; a panicking callback is logged, not fatal.
type StreamFunc func(StreamUpdate)

// AuthorizeFunc decides whether a tool call may proceed. A returned error
// means the authorization machinery itself failed, which aborts the
// execution as a validation error.
type AuthorizeFunc func(toolName string, toolInput map[string]any) (allowed bool, reason string, err error)

// Request describes one execution.
type Request struct {
	Prompt     string
	WorkingDir string
	SessionID  string
	Continue   bool
	OnStream   StreamFunc
	Authorize  AuthorizeFunc
}

// Result is the outcome of one execution.
type Result struct {
	Content   string
	SessionID string
	Cost      float64
	Duration  time.Duration
	NumTurns  int
	IsError   bool
	ErrorKind string
	ToolsUsed []ToolCall
}

// runState accumulates per-execution adapter state while events fold in.
type runState struct {
	sessionID     string
	turnCount     int
	textFragments []string
	textSeen      map[string]bool
	tools         []ToolCall
	toolSeen      map[string]bool
	stderrLines   []string
	nonJSONStdout []string
	eventTypes    []string
	eventErrors   []string
	unknownEvents int
}

func newRunState() *runState {
	return &runState{
		textSeen: make(map[string]bool),
		toolSeen: make(map[string]bool),
	}
}

// Runner executes prompts through the codex CLI, one subprocess per
// request. Safe for concurrent use.
type Runner struct {
	binary string
	cfg    config.Config
	obs    *observe.Observer
}

// NewRunner locates the codex binary and returns a Runner. A missing
// binary is logged but not fatal; executions fail until it is installed.
func NewRunner(cfg config.Config, obs *observe.Observer) *Runner {
	binary := findBinary(cfg.BinaryPath)
	if binary != "" {
		obs.Log().Info().Str("binary", binary).Msg("codex CLI detected")
	} else {
		obs.Log().Warn().Msg("codex CLI not found in PATH or common locations; executions will fail until it is installed")
	}
	return &Runner{binary: binary, cfg: cfg, obs: obs}
}

// findBinary locates the codex executable: explicit path, then
// $CODEX_CLI_PATH, then $PATH, then common install locations.
func findBinary(explicit string) string {
	candidates := []string{explicit, os.Getenv("CODEX_CLI_PATH")}
	for _, c := range candidates {
		if c != "" && isExecutable(c) {
			return c
		}
	}

	if p, err := exec.LookPath("codex"); err == nil {
		return p
	}

	home, _ := os.UserHomeDir()
	patterns := []string{
		filepath.Join(home, ".nvm", "versions", "node", "*", "bin", "codex"),
		filepath.Join(home, ".npm-global", "bin", "codex"),
		filepath.Join(home, "node_modules", ".bin", "codex"),
		"/usr/local/bin/codex",
		"/usr/bin/codex",
	}
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if isExecutable(m) {
				return m
			}
		}
	}

	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// Execute runs one prompt through the codex CLI and folds the event
// stream into a Result. It fails with a TimeoutError, ProcessError, or
// ToolValidationError.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := r.obs.StartSpan(ctx, "agent.Execute")
	defer span.End()

	if r.binary == "" {
		return nil, &ProcessError{Message: "codex CLI not found; install it and ensure `codex` is in PATH, or set CODEX_CLI_PATH"}
	}

	start := time.Now()

	outputPath := filepath.Join(os.TempDir(), "codex-last-message-"+uuid.NewString()+".txt")
	defer os.Remove(outputPath)

	argv := r.buildCommand(req, outputPath)
	st := newRunState()

	r.obs.Log().Info().
		Str("working_dir", req.WorkingDir).
		Str("session_id", req.SessionID).
		Bool("continue", req.Continue).
		Msg("starting codex CLI command")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ExecTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	cmd := exec.CommandContext(gctx, r.binary, argv...)
	cmd.Dir = req.WorkingDir
	cmd.Env = r.buildEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: fmt.Sprintf("failed to open stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: fmt.Sprintf("failed to open stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Message: fmt.Sprintf("failed to start codex CLI: %v", err)}
	}

	g.Go(func() error { return r.drainStdout(stdout, st, req) })
	g.Go(func() error { drainStderr(stderr, st); return nil })

	// A tool validation error cancels gctx, which kills the process;
	// Wait's error is irrelevant on that path.
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Timeout: r.cfg.ExecTimeout}
	}

	var tv *ToolValidationError
	if errors.As(drainErr, &tv) {
		return nil, tv
	}
	if drainErr != nil {
		return nil, &ProcessError{Message: fmt.Sprintf("failed to read codex output: %v", drainErr)}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, &ProcessError{Message: fmt.Sprintf("codex process error: %v", waitErr)}
		}
	}

	return r.assemble(req, st, outputPath, exitCode, time.Since(start))
}

// assemble applies the completion and non-zero-exit salvage rules.
func (r *Runner) assemble(req Request, st *runState, outputPath string, exitCode int, duration time.Duration) (*Result, error) {
	content := ""
	contentFromAssistant := false

	if data, err := os.ReadFile(outputPath); err == nil {
		content = string(data)
		if strings.TrimSpace(content) != "" {
			contentFromAssistant = true
		}
	}
	if strings.TrimSpace(content) == "" {
		content = strings.TrimSpace(strings.Join(st.textFragments, "\n"))
		if content != "" {
			contentFromAssistant = true
		}
	}
	if strings.TrimSpace(content) == "" {
		content = fallbackContent
	}

	if exitCode != 0 {
		stderrTail := joinTail(st.stderrLines, 30)
		nonJSONTail := joinTail(st.nonJSONStdout, 30)
		eventErrText := joinTail(st.eventErrors, 8)

		errText := eventErrText
		if errText == "" {
			errText = stderrTail
		}
		if errText == "" {
			errText = nonJSONTail
		}
		if errText == "" {
			errText = fmt.Sprintf("codex CLI exited with status %d", exitCode)
		}
		if stderrTail == "" && nonJSONTail == "" && len(st.eventTypes) > 0 {
			tail := st.eventTypes
			if len(tail) > 8 {
				tail = tail[len(tail)-8:]
			}
			errText = fmt.Sprintf("%s (events: %s)", errText, strings.Join(tail, ", "))
		}

		lowered := strings.ToLower(errText)
		switch {
		case strings.Contains(lowered, "mcp"):
			return nil, &ProcessError{Kind: KindMCP, Message: "MCP server error: " + errText}

		case strings.Contains(lowered, "not logged in"):
			return nil, &ProcessError{Kind: KindAuth, Message: "codex CLI is not logged in; run `codex login` on this host, then retry"}

		case strings.Contains(lowered, "no last agent message; wrote empty content"):
			// The run still streamed text; only the final artifact is
			// missing. The session id is unreliable when nothing was
			// salvaged.
			r.obs.Log().Warn().
				Int("exit_code", exitCode).
				Str("stderr", errText).
				Msg("codex returned no final assistant artifact; falling back to streamed content")
			if !contentFromAssistant {
				if req.Continue {
					st.sessionID = req.SessionID
				} else {
					st.sessionID = ""
				}
			}

		default:
			if contentFromAssistant {
				r.obs.Log().Warn().
					Int("exit_code", exitCode).
					Msg("codex exited non-zero but produced assistant content")
			} else {
				return nil, &ProcessError{Message: "codex process error: " + errText}
			}
		}
	}

	finalSessionID := st.sessionID
	if finalSessionID == "" && req.Continue && req.SessionID != "" {
		finalSessionID = req.SessionID
	}

	numTurns := st.turnCount
	if numTurns == 0 && strings.TrimSpace(req.Prompt) != "" {
		numTurns = 1
	}

	if st.unknownEvents > 0 {
		r.obs.Log().Debug().
			Int("count", st.unknownEvents).
			Msg("ignored unrecognized codex events")
	}

	return &Result{
		Content:   content,
		SessionID: finalSessionID,
		Cost:      0, // The codex JSONL stream exposes no direct USD cost.
		Duration:  duration,
		NumTurns:  numTurns,
		ToolsUsed: st.tools,
	}, nil
}

// drainStdout reads stdout line by line, folding protocol events into
// state. Returns a ToolValidationError when the gate denies a call.
func (r *Runner) drainStdout(stdout io.Reader, st *runState, req Request) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "{") {
			// Warnings, progress bars, and other line noise: keep for
			// diagnostics, never parse.
			st.nonJSONStdout = append(st.nonJSONStdout, line)
			continue
		}

		var ev event
		strict, err := parseEvent([]byte(line), &ev)
		if err != nil {
			st.unknownEvents++
			continue
		}
		if !strict {
			st.unknownEvents++
		}

		st.eventTypes = append(st.eventTypes, eventTypeName(&ev))

		if err := r.foldEvent(&ev, st, req); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func eventTypeName(ev *event) string {
	if ev.Type == "" {
		return "unknown"
	}
	return ev.Type
}

// foldEvent folds one parsed event into the run state and drives the
// streaming and authorization callbacks.
func (r *Runner) foldEvent(ev *event, st *runState, req Request) error {
	// Session identity: last writer wins.
	if ev.ThreadID != "" {
		st.sessionID = ev.ThreadID
	} else if ev.SessionID != "" {
		st.sessionID = ev.SessionID
	}

	if ev.Type == "turn.started" {
		st.turnCount++
	}

	if errText := extractErrorText(ev); errText != "" {
		st.eventErrors = append(st.eventErrors, errText)
		r.obs.Log().Warn().
			Str("event_type", ev.Type).
			Str("error", errText).
			Msg("codex event error")
	}

	isDelta := strings.Contains(strings.ToLower(ev.Type), "delta")
	for _, chunk := range extractTextChunks(ev) {
		if st.textSeen[chunk] {
			continue
		}
		st.textSeen[chunk] = true
		st.textFragments = append(st.textFragments, chunk)

		if req.OnStream != nil && isDelta {
			r.safeStream(req.OnStream, StreamUpdate{
				Type:      "assistant",
				Content:   chunk,
				EventType: ev.Type,
			})
		}
	}

	calls := extractToolCalls(ev)
	if len(calls) == 0 {
		return nil
	}

	var admitted []ToolCall
	for _, call := range calls {
		if req.Authorize != nil && call.Name != "" {
			allowed, reason, err := req.Authorize(string(call.Name), call.Input)
			if err != nil {
				r.obs.Log().Warn().
					Str("tool", string(call.Name)).
					Err(err).
					Msg("tool validation callback failed")
				return &ToolValidationError{
					Tool:   string(call.Name),
					Reason: fmt.Sprintf("tool validation callback failed for %s: %v", call.Name, err),
				}
			}
			if !allowed {
				return &ToolValidationError{Tool: string(call.Name), Reason: reason}
			}
		}

		fp := fingerprint(call.Name, call.Input)
		if st.toolSeen[fp] {
			continue
		}
		st.toolSeen[fp] = true
		st.tools = append(st.tools, call)
		admitted = append(admitted, call)
	}

	if req.OnStream != nil && len(admitted) > 0 {
		r.safeStream(req.OnStream, StreamUpdate{
			Type:      "assistant",
			ToolCalls: admitted,
			EventType: ev.Type,
		})
	}

	return nil
}

// safeStream invokes the streaming callback, containing panics. The
// stream sink is observational; it must never abort a run.
func (r *Runner) safeStream(fn StreamFunc, update StreamUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			r.obs.Log().Warn().
				Str("panic", fmt.Sprint(rec)).
				Msg("stream callback failed")
		}
	}()
	fn(update)
}

func drainStderr(stderr io.Reader, st *runState) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), " \t"); line != "" {
			st.stderrLines = append(st.stderrLines, line)
		}
	}
}

// yoloAliases are the unrestricted-execution flags deduplicated against
// extra args.
var yoloAliases = map[string]bool{
	"--yolo": true,
	"--dangerously-bypass-approvals-and-sandbox": true,
}

// buildCommand constructs the argv (after the binary) for one execution.
// For `codex exec resume`, options must precede the session id, and
// --sandbox is not accepted at all.
func (r *Runner) buildCommand(req Request, outputPath string) []string {
	prompt := req.Prompt
	if req.Continue && strings.TrimSpace(prompt) == "" {
		prompt = continuePlaceholder
	}

	isResume := req.Continue && req.SessionID != ""

	args := []string{"exec"}
	if isResume {
		args = append(args, "resume")
	}
	args = append(args, "--json", "--skip-git-repo-check", "--output-last-message", outputPath)

	if r.cfg.Yolo {
		args = append(args, "--yolo")
	} else if !isResume {
		if r.cfg.Sandbox {
			args = append(args, "--sandbox", "workspace-write")
		} else {
			args = append(args, "--sandbox", "danger-full-access")
		}
	}

	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if r.cfg.MaxBudgetUSD > 0 {
		args = append(args, "-c", "max_budget_usd="+strconv.FormatFloat(r.cfg.MaxBudgetUSD, 'f', -1, 64))
	}

	extraArgs := r.cfg.ExtraArgs
	if isResume {
		extraArgs = stripSandboxArgs(extraArgs)
	}
	for _, arg := range extraArgs {
		cleaned := strings.TrimSpace(arg)
		if cleaned == "" {
			continue
		}
		if yoloAliases[cleaned] && hasAnyFlag(args, yoloAliases) {
			continue
		}
		args = append(args, cleaned)
	}

	if isResume {
		args = append(args, req.SessionID)
	}
	args = append(args, prompt)
	return args
}

// stripSandboxArgs removes --sandbox (and its value) from extra args;
// resume mode rejects the flag even when it was configured for normal
// invocations.
func stripSandboxArgs(args []string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		cleaned := strings.TrimSpace(arg)
		if cleaned == "" {
			continue
		}
		if cleaned == "--sandbox" {
			skipNext = true
			continue
		}
		if strings.HasPrefix(cleaned, "--sandbox=") {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

func hasAnyFlag(args []string, flags map[string]bool) bool {
	for _, a := range args {
		if flags[a] {
			return true
		}
	}
	return false
}

// credentialEnvVars are removed when blank: empty values from a .env file
// would shadow valid ambient codex login state.
var credentialEnvVars = []string{
	"CODEX_HOME",
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"OPENAI_API_BASE",
	"OPENAI_ORG_ID",
	"OPENAI_PROJECT",
}

// buildEnv returns a sanitized copy of the process environment.
func (r *Runner) buildEnv() []string {
	blankable := make(map[string]bool, len(credentialEnvVars))
	for _, k := range credentialEnvVars {
		blankable[k] = true
	}

	var env []string
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if blankable[key] && strings.TrimSpace(value) == "" {
			continue
		}
		if key == "CODEX_HOME" && r.cfg.Home != "" {
			continue // replaced below
		}
		env = append(env, kv)
	}

	if home := expandHome(r.cfg.Home); home != "" && home != "." {
		env = append(env, "CODEX_HOME="+home)
	}

	return env
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
