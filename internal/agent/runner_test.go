package agent

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/observe"
)

// fakeCodex writes an executable shell script standing in for the codex
// CLI and returns a Runner pointed at it.
func fakeCodex(t *testing.T, script string) *Runner {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex")
	full := "#!/bin/sh\n" +
		// Capture the --output-last-message path from argv.
		"out=\"\"\nprev=\"\"\n" +
		"for a in \"$@\"; do\n" +
		"  if [ \"$prev\" = \"--output-last-message\" ]; then out=\"$a\"; fi\n" +
		"  prev=\"$a\"\n" +
		"done\n" +
		script
	if err := os.WriteFile(path, []byte(full), 0o755); err != nil {
		t.Fatal(err)
	}
	return &Runner{
		binary: path,
		cfg:    config.Config{Yolo: true, ExecTimeout: 10 * time.Second},
		obs:    observe.New(io.Discard, false),
	}
}

func TestRunner_Execute(t *testing.T) {
	r := fakeCodex(t, `
echo '{"type":"thread.started","thread_id":"t-123"}'
echo '{"type":"turn.started"}'
echo '{"type":"item.completed","item":{"role":"assistant","text":"All done."}}'
printf 'All done.' > "$out"
`)

	res, err := r.Execute(context.Background(), Request{Prompt: "do it", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "All done." {
		t.Errorf("Content = %q", res.Content)
	}
	if res.SessionID != "t-123" {
		t.Errorf("SessionID = %q", res.SessionID)
	}
	if res.NumTurns != 1 {
		t.Errorf("NumTurns = %d", res.NumTurns)
	}
}

func TestRunner_Execute_StreamedFallback(t *testing.T) {
	// No last-message artifact; the streamed fragments become the content.
	r := fakeCodex(t, `
echo '{"type":"thread.started","thread_id":"t-9"}'
echo '{"type":"item.completed","item":{"role":"assistant","text":"Streamed answer"}}'
`)

	res, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "Streamed answer" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestRunner_Execute_AuthFailure(t *testing.T) {
	r := fakeCodex(t, `
echo 'ERROR: not logged in' >&2
exit 1
`)

	_, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if pe.Kind != KindAuth {
		t.Errorf("Kind = %v, want KindAuth", pe.Kind)
	}
	if Retryable(err) {
		t.Error("Auth failure must not be retryable")
	}
}

func TestRunner_Execute_GenericFailure(t *testing.T) {
	r := fakeCodex(t, `
echo 'no conversation found for session' >&2
exit 1
`)

	_, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if pe.Kind != KindGeneric {
		t.Errorf("Kind = %v, want KindGeneric", pe.Kind)
	}
	if !Retryable(err) {
		t.Error("Stale-session failure must be retryable")
	}
	if !strings.Contains(pe.Message, "no conversation found") {
		t.Errorf("Message should carry stderr: %q", pe.Message)
	}
}

func TestRunner_Execute_NonZeroWithContent(t *testing.T) {
	// Assistant content survives a non-zero exit.
	r := fakeCodex(t, `
echo '{"type":"thread.started","thread_id":"t-5"}'
printf 'Partial but real.' > "$out"
exit 1
`)

	res, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Expected salvage, got %v", err)
	}
	if res.Content != "Partial but real." {
		t.Errorf("Content = %q", res.Content)
	}
	if res.SessionID != "t-5" {
		t.Errorf("SessionID = %q", res.SessionID)
	}
}

func TestRunner_Execute_EmptyArtifactSalvage(t *testing.T) {
	t.Run("Fresh Session Voids ID", func(t *testing.T) {
		r := fakeCodex(t, `
echo '{"type":"thread.started","thread_id":"t-7"}'
echo 'no last agent message; wrote empty content' >&2
exit 1
`)
		res, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
		if err != nil {
			t.Fatalf("Expected salvage, got %v", err)
		}
		if res.SessionID != "" {
			t.Errorf("SessionID = %q, want empty", res.SessionID)
		}
		if res.Content != fallbackContent {
			t.Errorf("Content = %q", res.Content)
		}
	})

	t.Run("Continuation Keeps Prior ID", func(t *testing.T) {
		r := fakeCodex(t, `
echo 'no last agent message; wrote empty content' >&2
exit 1
`)
		res, err := r.Execute(context.Background(), Request{
			Prompt: "p", WorkingDir: t.TempDir(),
			SessionID: "prior-1", Continue: true,
		})
		if err != nil {
			t.Fatalf("Expected salvage, got %v", err)
		}
		if res.SessionID != "prior-1" {
			t.Errorf("SessionID = %q, want prior-1", res.SessionID)
		}
	})
}

func TestRunner_Execute_ToolValidation(t *testing.T) {
	// The script emits a denied tool call and then lingers; the
	// validation error must kill it rather than wait out the stream.
	r := fakeCodex(t, `
echo '{"type":"tool.started","tool_name":"bash","input":{"command":"rm -rf /"}}'
sleep 30
`)

	deny := func(toolName string, toolInput map[string]any) (bool, string, error) {
		return false, "dangerous command pattern detected: rm -rf", nil
	}

	start := time.Now()
	_, err := r.Execute(context.Background(), Request{
		Prompt: "p", WorkingDir: t.TempDir(), Authorize: deny,
	})
	var tv *ToolValidationError
	if !errors.As(err, &tv) {
		t.Fatalf("Expected ToolValidationError, got %v", err)
	}
	if tv.Tool != "Bash" {
		t.Errorf("Tool = %q", tv.Tool)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Denial did not terminate the process promptly")
	}
}

func TestRunner_Execute_Timeout(t *testing.T) {
	r := fakeCodex(t, "sleep 30\n")
	r.cfg.ExecTimeout = 500 * time.Millisecond

	_, err := r.Execute(context.Background(), Request{Prompt: "p", WorkingDir: t.TempDir()})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if Retryable(err) {
		t.Error("Timeout must not be retryable")
	}
}

func TestRunner_Execute_StreamCallback(t *testing.T) {
	r := fakeCodex(t, `
echo '{"type":"message.delta","delta":"chunk one "}'
echo '{"type":"message.delta","delta":"chunk two"}'
echo '{"type":"exec.command.started","command":"ls"}'
printf 'chunk one chunk two' > "$out"
`)

	var texts []string
	var tools []ToolCall
	onStream := func(u StreamUpdate) {
		if u.Content != "" {
			texts = append(texts, u.Content)
		}
		tools = append(tools, u.ToolCalls...)
	}

	res, err := r.Execute(context.Background(), Request{
		Prompt: "p", WorkingDir: t.TempDir(), OnStream: onStream,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(texts) != 2 {
		t.Errorf("Streamed texts = %v", texts)
	}
	if len(tools) != 1 || tools[0].Name != ToolBash {
		t.Errorf("Streamed tools = %v", tools)
	}
	if len(res.ToolsUsed) != 1 {
		t.Errorf("ToolsUsed = %v", res.ToolsUsed)
	}
}
